package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/klauspost/compress/zstd"

	appctx "fiscalseq/internal/core/context"
	"fiscalseq/internal/core/id"
	"fiscalseq/pkg/logger"
)

// CompressionAlgo specifies the compression algorithm used for audit payloads.
type CompressionAlgo string

const (
	CompressionNone CompressionAlgo = "none"
	CompressionZstd CompressionAlgo = "zstd"
)

// AuditEntry is one immutable record of a range mutation or a consumed number.
// The fiscal domain requires an append-only trail of every issued number.
type AuditEntry struct {
	ID                id.ID           `db:"id"`
	RangeID           id.ID           `db:"range_id"`
	Action            string          `db:"action"`
	UserID            string          `db:"user_id"`
	AuthKind          string          `db:"auth_kind"`
	Changes           json.RawMessage `db:"changes"`
	ChangesCompressed []byte          `db:"changes_compressed"`
	CompressionAlgo   CompressionAlgo `db:"compression_algo"`
	CreatedAt         time.Time       `db:"created_at"`
}

// AuditService provides the allocation audit trail.
type AuditService struct {
	txManager         *TxManager
	encoder           *zstd.Encoder
	decoder           *zstd.Decoder
	compressThreshold int // bytes
}

// NewAuditService creates a new audit service.
func NewAuditService(txManager *TxManager) (*AuditService, error) {
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}

	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}

	return &AuditService{
		txManager:         txManager,
		encoder:           encoder,
		decoder:           decoder,
		compressThreshold: 10 * 1024,
	}, nil
}

// Log records an audit entry.
func (s *AuditService) Log(ctx context.Context, entry AuditEntry) error {
	if caller := appctx.GetCaller(ctx); caller != nil {
		if entry.UserID == "" {
			entry.UserID = caller.UserID
		}
		entry.AuthKind = string(caller.AuthKind)
	}

	if id.IsNil(entry.ID) {
		entry.ID = id.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	// Compress large payloads
	entry.CompressionAlgo = CompressionNone
	if len(entry.Changes) > s.compressThreshold {
		entry.ChangesCompressed = s.encoder.EncodeAll(entry.Changes, nil)
		entry.Changes = nil
		entry.CompressionAlgo = CompressionZstd
	}

	sql := `
		INSERT INTO seq_audit (
			id, range_id, action, user_id, auth_kind,
			changes, changes_compressed, compression_algo, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	querier := s.txManager.GetQuerier(ctx)
	_, err := querier.Exec(ctx, sql,
		entry.ID, entry.RangeID, entry.Action, entry.UserID, entry.AuthKind,
		entry.Changes, entry.ChangesCompressed, entry.CompressionAlgo,
		entry.CreatedAt,
	)
	return err
}

// Record implements sequence.AuditTrail. Best-effort: a consumed number is
// already durable when this runs, so audit failure is logged, not returned.
func (s *AuditService) Record(ctx context.Context, rangeID id.ID, action string, changes map[string]any) {
	var payload json.RawMessage
	if changes != nil {
		b, err := json.Marshal(changes)
		if err != nil {
			logger.Warn(ctx, "audit payload marshal failed", "range_id", rangeID, "error", err)
			return
		}
		payload = b
	}

	if err := s.Log(ctx, AuditEntry{RangeID: rangeID, Action: action, Changes: payload}); err != nil {
		logger.Warn(ctx, "audit write failed",
			"range_id", rangeID,
			"action", action,
			"error", err,
		)
	}
}

// History retrieves the audit trail of one range, newest first.
func (s *AuditService) History(ctx context.Context, rangeID id.ID, limit int) ([]AuditEntry, error) {
	sql := `
		SELECT id, range_id, action, user_id, auth_kind,
			   changes, changes_compressed, compression_algo, created_at
		FROM seq_audit
		WHERE range_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	rows, err := s.txManager.GetQuerier(ctx).Query(ctx, sql, rangeID, limit)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var entries []AuditEntry
	for rows.Next() {
		var e AuditEntry
		err := rows.Scan(
			&e.ID, &e.RangeID, &e.Action, &e.UserID, &e.AuthKind,
			&e.Changes, &e.ChangesCompressed, &e.CompressionAlgo, &e.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}

		if e.CompressionAlgo == CompressionZstd && len(e.ChangesCompressed) > 0 {
			decompressed, err := s.decoder.DecodeAll(e.ChangesCompressed, nil)
			if err != nil {
				return nil, fmt.Errorf("decompress changes: %w", err)
			}
			e.Changes = decompressed
			e.ChangesCompressed = nil
		}

		entries = append(entries, e)
	}

	return entries, rows.Err()
}
