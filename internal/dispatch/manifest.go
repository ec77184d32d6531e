package dispatch

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
)

// Manifest is the deterministic description of one dispatch call: the sorted
// set of storage keys to process plus the processing mode. Equal file sets
// always hash to the same id regardless of input order.
type Manifest struct {
	Keys []string
	Mode string
}

func BuildManifest(keys []string, mode string) Manifest {
	sorted := make([]string, len(keys))
	copy(sorted, keys)
	sort.Strings(sorted)

	return Manifest{Keys: sorted, Mode: mode}
}

// Hash is the stable content id of the manifest.
func (m Manifest) Hash() string {
	h := sha256.New()
	fmt.Fprintf(h, "mode:%s\n", m.Mode)
	h.Write([]byte(strings.Join(m.Keys, "\n")))
	return hex.EncodeToString(h.Sum(nil))
}
