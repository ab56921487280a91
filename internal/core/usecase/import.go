package usecase

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/promo-price-index/internal/core/domain"
	"github.com/kirillkom/promo-price-index/internal/core/ports"
)

const DefaultMaxUploadBytes int64 = 20 << 20

type ImportFlyerUseCase struct {
	storage          ports.ObjectStorage
	imports          ports.ImportRepository
	extraction       ports.MultiPassExtractor
	maxUploadBytes   int64
	defaultPassCount int
	now              func() time.Time
}

func NewImportFlyerUseCase(
	storage ports.ObjectStorage,
	imports ports.ImportRepository,
	extraction ports.MultiPassExtractor,
	maxUploadBytes int64,
	defaultPassCount int,
) *ImportFlyerUseCase {
	if maxUploadBytes <= 0 {
		maxUploadBytes = DefaultMaxUploadBytes
	}
	if defaultPassCount <= 0 {
		defaultPassCount = DefaultPassCount
	}
	return &ImportFlyerUseCase{
		storage:          storage,
		imports:          imports,
		extraction:       extraction,
		maxUploadBytes:   maxUploadBytes,
		defaultPassCount: defaultPassCount,
		now:              time.Now,
	}
}

// WithClock replaces the time source stamped on import results.
func (uc *ImportFlyerUseCase) WithClock(now func() time.Time) *ImportFlyerUseCase {
	if now != nil {
		uc.now = now
	}
	return uc
}

func (uc *ImportFlyerUseCase) Import(
	ctx context.Context,
	filename, mimeType string,
	body io.Reader,
	passCount int,
) (*domain.ImportResult, error) {
	passCount, err := uc.resolvePassCount(passCount)
	if err != nil {
		return nil, err
	}

	raw, err := uc.readLimited(body)
	if err != nil {
		return nil, err
	}

	id := uuid.NewString()
	storageKey := fmt.Sprintf("%s_%s", id, sanitizeFilename(filename))
	if err := uc.storage.Save(ctx, storageKey, bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("save to object storage: %w", err)
	}

	consensusResult, err := uc.extraction.Run(ctx, raw, filename, passCount)
	if err != nil {
		return nil, uc.discard(ctx, storageKey, fmt.Errorf("extract products: %w", err))
	}

	result := &domain.ImportResult{
		ID:          id,
		Filename:    filename,
		MimeType:    mimeType,
		StoragePath: storageKey,
		PassCount:   passCount,
		Consensus:   consensusResult,
		CreatedAt:   uc.now().UTC(),
	}
	if err := uc.imports.SaveImport(ctx, result); err != nil {
		return nil, uc.discard(ctx, storageKey, fmt.Errorf("save import result: %w", err))
	}
	return result, nil
}

// discard removes an archived flyer whose import was not recorded. The removal runs
// even when ctx is already canceled.
func (uc *ImportFlyerUseCase) discard(ctx context.Context, storageKey string, cause error) error {
	if err := uc.storage.Delete(context.WithoutCancel(ctx), storageKey); err != nil {
		return errors.Join(cause, fmt.Errorf("discard stored flyer %s: %w", storageKey, err))
	}
	return cause
}

func (uc *ImportFlyerUseCase) GetImport(ctx context.Context, id string) (*domain.ImportResult, error) {
	if strings.TrimSpace(id) == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "get import", errors.New("import id is required"))
	}
	return uc.imports.GetImport(ctx, id)
}

func (uc *ImportFlyerUseCase) resolvePassCount(passCount int) (int, error) {
	switch {
	case passCount == 0:
		return uc.defaultPassCount, nil
	case passCount < 0 || passCount > MaxPassCount:
		return 0, domain.WrapError(
			domain.ErrInvalidInput,
			"import flyer",
			fmt.Errorf("passes must be between 1 and %d", MaxPassCount),
		)
	default:
		return passCount, nil
	}
}

func (uc *ImportFlyerUseCase) readLimited(body io.Reader) ([]byte, error) {
	raw, err := io.ReadAll(io.LimitReader(body, uc.maxUploadBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	if int64(len(raw)) > uc.maxUploadBytes {
		return nil, domain.WrapError(
			domain.ErrInvalidInput,
			"import flyer",
			fmt.Errorf("file exceeds %d bytes", uc.maxUploadBytes),
		)
	}
	if len(raw) == 0 {
		return nil, domain.WrapError(domain.ErrInvalidInput, "import flyer", errors.New("empty file"))
	}
	return raw, nil
}

func sanitizeFilename(name string) string {
	base := filepath.Base(name)
	base = strings.ReplaceAll(base, " ", "_")
	base = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r
		case r >= 'A' && r <= 'Z':
			return r
		case r >= '0' && r <= '9':
			return r
		case r == '.', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, base)
	if base == "" || base == "." {
		return "flyer.bin"
	}
	return base
}
