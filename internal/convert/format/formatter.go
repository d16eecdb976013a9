package format

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/site2md/engine/pkg/types"
)

// ErrUnsupportedFormat should be unreachable: formats are validated
// before a request enters the pipeline.
var ErrUnsupportedFormat = errors.New("unsupported format")

// Content types of the rendered bodies.
const (
	ContentTypeMarkdown = "text/markdown; charset=utf-8"
	ContentTypeJSON     = "application/json"
)

// jsonEnvelope is the wire shape of a JSON conversion response.
type jsonEnvelope struct {
	Title   string `json:"title"`
	Content string `json:"content"`
	URL     string `json:"url"`
	Cached  bool   `json:"cached"`
}

// Render produces the response body and content type for a conversion
// result. Pure function; the only failure mode is an unknown format.
func Render(result *types.ConversionResult) ([]byte, string, error) {
	switch result.Format {
	case types.FormatMarkdown:
		return renderMarkdown(result.Document), ContentTypeMarkdown, nil
	case types.FormatJSON:
		body, err := json.Marshal(jsonEnvelope{
			Title:   result.Document.Title,
			Content: result.Document.Content,
			URL:     result.Document.URL,
			Cached:  result.FromCache,
		})
		if err != nil {
			return nil, "", err
		}
		return body, ContentTypeJSON, nil
	default:
		return nil, "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, result.Format)
	}
}

func renderMarkdown(doc *types.Document) []byte {
	if doc.Title == "" {
		return []byte(doc.Content + "\n")
	}
	return []byte(fmt.Sprintf("# %s\n\n%s\n", doc.Title, doc.Content))
}
