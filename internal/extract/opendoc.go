package extract

import (
	"github.com/lu4p/cat"
)

// extractOpenDocument handles .odt and .rtf; cat detects the format from the content.
func extractOpenDocument(content []byte) (string, error) {
	return cat.FromBytes(content)
}
