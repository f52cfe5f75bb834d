package payment

import (
	"math/rand/v2"
	"strconv"
	"strings"
	"time"
)

const referenceAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"

// GenerateReference returns <prefix>_<unix millis>_<6 random base36 chars>.
// Collisions are possible; the orders table enforces uniqueness.
func GenerateReference(prefix string, now time.Time) string {
	var b strings.Builder
	b.WriteString(prefix)
	b.WriteByte('_')
	b.WriteString(strconv.FormatInt(now.UnixMilli(), 10))
	b.WriteByte('_')
	for range 6 {
		b.WriteByte(referenceAlphabet[rand.IntN(len(referenceAlphabet))])
	}
	return b.String()
}
