// Package workerproc turns raw queue deliveries into analysis jobs.
package workerproc

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"

	"radar-backend/internal/queue"
	"radar-backend/internal/shared/metrics"
	"radar-backend/internal/shared/telemetry"
)

// MessageMeta captures details useful for logging without the body itself.
type MessageMeta struct {
	BodyLen int
	BodySHA string
}

// ComputeMeta returns the body length and SHA-256 hash.
func ComputeMeta(body []byte) MessageMeta {
	if len(body) == 0 {
		return MessageMeta{}
	}
	sum := sha256.Sum256(body)
	return MessageMeta{BodyLen: len(body), BodySHA: hex.EncodeToString(sum[:])}
}

// ErrEmptyBody indicates an empty queue payload.
type ErrEmptyBody struct {
	Meta MessageMeta
}

func (e ErrEmptyBody) Error() string { return "empty message body" }

// ErrDecode indicates a JSON decode failure.
type ErrDecode struct {
	Meta MessageMeta
	Err  error
}

func (e ErrDecode) Error() string {
	if e.Err == nil {
		return "decode message"
	}
	return "decode message: " + e.Err.Error()
}

func (e ErrDecode) Unwrap() error { return e.Err }

// ErrInvalidJob indicates a decoded job that can never be processed.
type ErrInvalidJob struct {
	Meta MessageMeta
	Err  error
}

func (e ErrInvalidJob) Error() string {
	if e.Err == nil {
		return "invalid job"
	}
	return "invalid job: " + e.Err.Error()
}

func (e ErrInvalidJob) Unwrap() error { return e.Err }

// Decode validates and decodes one queue payload.
func Decode(body []byte) (queue.Job, MessageMeta, error) {
	meta := ComputeMeta(body)
	if len(bytes.TrimSpace(body)) == 0 {
		return queue.Job{}, meta, ErrEmptyBody{Meta: meta}
	}
	job, err := queue.DecodeJob(body)
	if err != nil {
		return queue.Job{}, meta, ErrDecode{Meta: meta, Err: err}
	}
	if err := job.Validate(); err != nil {
		return job, meta, ErrInvalidJob{Meta: meta, Err: err}
	}
	return job, meta, nil
}

// Decoded is a delivery with its job.
type Decoded struct {
	Delivery queue.Delivery
	Job      queue.Job
	Meta     MessageMeta
}

// Rejected is a delivery that will never decode. Callers ack and drop it.
type Rejected struct {
	Delivery queue.Delivery
	Meta     MessageMeta
	Err      error
}

// DecodeDeliveries splits a batch into jobs and unrecoverable deliveries, keeping
// input order within each.
func DecodeDeliveries(deliveries []queue.Delivery) ([]Decoded, []Rejected) {
	decoded := make([]Decoded, 0, len(deliveries))
	var rejected []Rejected
	for _, d := range deliveries {
		job, meta, err := Decode(d.Body)
		if err != nil {
			metrics.IncJob(metrics.JobUndecodable)
			telemetry.Warn("workerproc.message.rejected", map[string]any{
				"message_id":    d.ID,
				"receive_count": d.ReceiveCount,
				"body_len":      meta.BodyLen,
				"body_sha":      meta.BodySHA,
				"error":         err.Error(),
			})
			rejected = append(rejected, Rejected{Delivery: d, Meta: meta, Err: err})
			continue
		}
		decoded = append(decoded, Decoded{Delivery: d, Job: job, Meta: meta})
	}
	return decoded, rejected
}

// Jobs returns the jobs of a decoded batch.
func Jobs(decoded []Decoded) []queue.Job {
	jobs := make([]queue.Job, len(decoded))
	for i, d := range decoded {
		jobs[i] = d.Job
	}
	return jobs
}
