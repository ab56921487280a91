package ollama

func buildExtractionPrompt(chunk string) string {
	return `You read supermarket promotional flyers written in Brazilian Portuguese.
List every product offer found in the text below.
Return strict JSON object {"products": [...]} where each item has keys:
name (string, product name with brand and package size as printed),
price (number, promotional price in BRL),
original_price (number or null, the "de" price when the flyer shows "de X por Y"),
unit (string, sale unit such as "kg", "un", "pct", empty when not printed),
validity (string, offer validity as printed, empty when not printed).
Do not invent products. No markdown, no extra keys.

Flyer text:
` + chunk
}
