package prescriptions

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"

	pkgerrors "github.com/rxdispatch/rxdispatch-backend/pkg/errors"
)

// ObjectStore is the slice of object storage uploads need.
type ObjectStore interface {
	Upload(ctx context.Context, object, contentType string, body io.Reader) error
	PublicURL(object string) string
}

var allowedImageTypes = []string{
	"image/jpeg",
	"image/png",
	"image/webp",
	"image/heic",
	"application/pdf",
}

// Image is an uploaded prescription file as received from the client.
type Image struct {
	Filename string
	Data     []byte
}

// detectImage sniffs the content and returns its MIME type and extension.
// The client-supplied filename and content type are never trusted.
func detectImage(data []byte) (string, string, error) {
	if len(data) == 0 {
		return "", "", pkgerrors.New(pkgerrors.CodeValidation, "image is empty")
	}
	mt := mimetype.Detect(data)
	for _, allowed := range allowedImageTypes {
		if mt.Is(allowed) {
			return allowed, mt.Extension(), nil
		}
	}
	return "", "", pkgerrors.New(pkgerrors.CodeValidation, "unsupported image type").
		WithDetails(map[string]any{
			"detected": mt.String(),
			"allowed":  strings.Join(allowedImageTypes, ", "),
		})
}

func objectKey(userID uuid.UUID, ext string) string {
	return fmt.Sprintf("prescriptions/%s/%s%s", userID, uuid.NewString(), ext)
}
