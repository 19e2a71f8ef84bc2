package keys

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

const keyPrefix = "usr_pool"

// Generate produces count unique pool keys of the form
// usr_pool_NNNN_xxxxxxxxxxxx, numbered from startIndex.
func Generate(count, startIndex int) []string {
	generated := make([]string, 0, count)
	for i := 0; i < count; i++ {
		shortID := strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
		generated = append(generated, fmt.Sprintf("%s_%04d_%s", keyPrefix, startIndex+i+1, shortID))
	}
	return generated
}
