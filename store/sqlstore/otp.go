package sqlstore

import (
	"context"
	"database/sql"
	"errors"

	"github.com/MrEthical07/goIdentity/store"
)

const otpColumns = `request_id, user_id, otp_hash, purpose, status, attempt_count, max_attempts,
	expires_at, created_at, delivery_status, delivery_id`

func scanOtp(row interface{ Scan(dest ...any) error }) (*store.OtpRecord, error) {
	var (
		rec             store.OtpRecord
		status, deliver string
		expires, born   int64
	)
	if err := row.Scan(&rec.RequestID, &rec.UserID, &rec.OtpHash, &rec.Purpose, &status, &rec.AttemptCount,
		&rec.MaxAttempts, &expires, &born, &deliver, &rec.DeliveryID); err != nil {
		return nil, notFound(err)
	}
	rec.Status = store.OtpStatus(status)
	rec.DeliveryStatus = store.DeliveryStatus(deliver)
	rec.ExpiresAt = fromMillis(expires)
	rec.CreatedAt = fromMillis(born)
	return &rec, nil
}

// IssueOtp writes the owner's user row first so concurrent requests for the
// same user queue behind each other; the partial unique index on pending
// challenges backs this up.
func (s *Store) IssueOtp(ctx context.Context, rec *store.OtpRecord) (bool, error) {
	var reused bool
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		n, err := s.exec(ctx, tx, `UPDATE users SET first_login = first_login WHERE id = ?`, rec.UserID)
		if err != nil {
			return err
		}
		if n == 0 {
			return store.ErrNotFound
		}

		cur, err := scanOtp(tx.QueryRowContext(ctx, s.rebind(`SELECT `+otpColumns+` FROM otp_challenges
			WHERE user_id = ? AND purpose = ? AND status = ? ORDER BY created_at DESC LIMIT 1`),
			rec.UserID, rec.Purpose, string(store.OtpPending)))
		switch {
		case err == nil:
			reused = true
			rec.RequestID = cur.RequestID
			rec.CreatedAt = cur.CreatedAt
			rec.Status = store.OtpPending
			_, err = s.exec(ctx, tx, `UPDATE otp_challenges SET otp_hash = ?, attempt_count = ?, max_attempts = ?,
				expires_at = ?, delivery_status = ?, delivery_id = ? WHERE request_id = ?`,
				rec.OtpHash, rec.AttemptCount, rec.MaxAttempts, toMillis(rec.ExpiresAt),
				string(rec.DeliveryStatus), rec.DeliveryID, rec.RequestID)
			return err
		case errors.Is(err, store.ErrNotFound):
			rec.Status = store.OtpPending
			_, err = s.exec(ctx, tx, `INSERT INTO otp_challenges (`+otpColumns+`)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				rec.RequestID, rec.UserID, rec.OtpHash, rec.Purpose, string(rec.Status), rec.AttemptCount,
				rec.MaxAttempts, toMillis(rec.ExpiresAt), toMillis(rec.CreatedAt), string(rec.DeliveryStatus), rec.DeliveryID)
			return err
		default:
			return err
		}
	})
	if err != nil {
		return false, err
	}
	return reused, nil
}

func (s *Store) FindOtpByRequestID(ctx context.Context, requestID string) (*store.OtpRecord, error) {
	return scanOtp(s.db.QueryRowContext(ctx, s.rebind(`SELECT `+otpColumns+` FROM otp_challenges
		WHERE request_id = ?`), requestID))
}

func (s *Store) FindPendingOtp(ctx context.Context, userID, purpose string) (*store.OtpRecord, error) {
	return scanOtp(s.db.QueryRowContext(ctx, s.rebind(`SELECT `+otpColumns+` FROM otp_challenges
		WHERE user_id = ? AND purpose = ? AND status = ? ORDER BY created_at DESC LIMIT 1`),
		userID, purpose, string(store.OtpPending)))
}

func (s *Store) ReserveOtpAttempt(ctx context.Context, requestID string) (int, bool, error) {
	var attempts int
	err := s.db.QueryRowContext(ctx, s.rebind(`UPDATE otp_challenges SET attempt_count = attempt_count + 1
		WHERE request_id = ? AND status = ? AND attempt_count < max_attempts RETURNING attempt_count`),
		requestID, string(store.OtpPending)).Scan(&attempts)
	switch {
	case err == nil:
		return attempts, true, nil
	case !errors.Is(err, sql.ErrNoRows):
		return 0, false, err
	}
	rec, err := s.FindOtpByRequestID(ctx, requestID)
	if err != nil {
		return 0, false, err
	}
	return rec.AttemptCount, false, nil
}

func (s *Store) TransitionOtpStatus(ctx context.Context, requestID string, from, to store.OtpStatus) (bool, error) {
	n, err := s.exec(ctx, s.db, `UPDATE otp_challenges SET status = ? WHERE request_id = ? AND status = ?`,
		string(to), requestID, string(from))
	if err != nil {
		return false, err
	}
	if n > 0 {
		return true, nil
	}
	if _, err := s.FindOtpByRequestID(ctx, requestID); err != nil {
		return false, err
	}
	return false, nil
}

func (s *Store) UpdateOtpDelivery(ctx context.Context, requestID string, status store.DeliveryStatus, deliveryID string) error {
	n, err := s.exec(ctx, s.db, `UPDATE otp_challenges SET delivery_status = ?, delivery_id = ? WHERE request_id = ?`,
		string(status), deliveryID, requestID)
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}
