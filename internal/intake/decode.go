package intake

import (
	"image"
	"os"

	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// VerifyImageDecodes checks that the file at path decodes as one of the
// supported image formats. Registered decoders cover the full upload
// allow-list: PNG, JPEG, TIFF and WEBP.
func VerifyImageDecodes(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() {
		_ = f.Close()
	}()
	_, _, err = image.Decode(f)
	return err
}
