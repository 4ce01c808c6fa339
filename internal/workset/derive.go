package workset

import (
	"errors"
	"fmt"
	"strings"
)

const (
	// BAMExt is the only extension Derive accepts.
	BAMExt = ".bam"
	// MTMarker is inserted before the extension of every derived key.
	MTMarker = "_MT"
)

// ErrUnderivableKey is returned for keys that do not name a BAM file.
var ErrUnderivableKey = errors.New("cannot derive output key")

// Derive returns the destination key for a source BAM key:
// "cellA/2.bam" becomes "cellA/2_MT.bam".
func Derive(sourceKey string) (string, error) {
	if !strings.HasSuffix(sourceKey, BAMExt) {
		return "", fmt.Errorf("%w: %q does not end in %s", ErrUnderivableKey, sourceKey, BAMExt)
	}
	stem := strings.TrimSuffix(sourceKey, BAMExt)
	if stem == "" || strings.HasSuffix(stem, "/") {
		return "", fmt.Errorf("%w: %q has an empty file name", ErrUnderivableKey, sourceKey)
	}
	return stem + MTMarker + BAMExt, nil
}

// Stem inverts Derive.
func Stem(outputKey string) (string, error) {
	suffix := MTMarker + BAMExt
	if !strings.HasSuffix(outputKey, suffix) || len(outputKey) == len(suffix) {
		return "", fmt.Errorf("%w: %q is not a derived key", ErrUnderivableKey, outputKey)
	}
	return strings.TrimSuffix(outputKey, suffix) + BAMExt, nil
}
