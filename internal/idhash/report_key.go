package idhash

import (
	"crypto/sha256"
	"fmt"
	"time"

	"github.com/mr-tron/base58"
)

// ComputeReportKey computes a compact deterministic key for a lab report.
// Formula: base58(SHA256(lab_id|generated_at_unix_ms))
func ComputeReportKey(labID string, generatedAt time.Time) string {
	data := fmt.Sprintf("%s|%d", labID, generatedAt.UTC().UnixMilli())
	hash := sha256.Sum256([]byte(data))
	return base58.Encode(hash[:])
}

// ComputeSliceLabel derives the lab name for one WFO slice.
// Formula: <wfo label>/p<period>/<train|test>
func ComputeSliceLabel(wfoLabel string, period int, train bool) string {
	kind := "test"
	if train {
		kind = "train"
	}
	return fmt.Sprintf("%s/p%d/%s", wfoLabel, period, kind)
}
