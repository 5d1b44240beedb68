// Package images turns source image bytes into thumbnail bytes. All
// failures are captured in the returned Data, the functions never panic
// and never return errors to the caller.
package images

import (
	"bytes"
	"image"

	"github.com/disintegration/imaging"
	"github.com/gabriel-vasile/mimetype"
	"github.com/pkg/errors"
)

// Data is the outcome of a resize. Exactly one of Data and Err is set.
type Data struct {
	ContentType string
	Data        []byte
	Err         error
}

var formatByName = map[string]imaging.Format{
	"png":  imaging.PNG,
	"jpeg": imaging.JPEG,
	"jpg":  imaging.JPEG,
	"gif":  imaging.GIF,
	"tiff": imaging.TIFF,
	"bmp":  imaging.BMP,
}

var mimeByFormat = map[imaging.Format]string{
	imaging.PNG:  "image/png",
	imaging.JPEG: "image/jpeg",
	imaging.GIF:  "image/gif",
	imaging.TIFF: "image/tiff",
	imaging.BMP:  "image/bmp",
}

// Resize scales src down to fit into width x height preserving the aspect
// ratio; images already inside the box are not upscaled. A non-empty
// targetFormat ("png" or "jpeg") re-encodes the thumbnail; when the
// conversion fails the thumbnail keeps the source format. jpegQuality
// applies to jpeg output, zero means the encoder default.
func Resize(src []byte, width, height int, targetFormat string, jpegQuality int) Data {
	if width <= 0 || height <= 0 {
		return Data{Err: errors.Errorf("invalid thumbnail size %dx%d", width, height)}
	}
	img, formatName, err := image.Decode(bytes.NewReader(src))
	if err != nil {
		return Data{
			ContentType: mimetype.Detect(src).String(),
			Err:         errors.Wrap(err, "failed to decode source image"),
		}
	}
	srcFormat, ok := formatByName[formatName]
	if !ok {
		return Data{
			ContentType: mimetype.Detect(src).String(),
			Err:         errors.Errorf("unsupported image format %q", formatName),
		}
	}

	thumb := imaging.Fit(img, width, height, imaging.Lanczos)

	outFormat := srcFormat
	if target, ok := formatByName[targetFormat]; targetFormat != "" && ok {
		outFormat = target
	}
	encoded, err := encode(thumb, outFormat, jpegQuality)
	if err != nil && outFormat != srcFormat {
		// Conversion failed, fall back to the source format.
		outFormat = srcFormat
		encoded, err = encode(thumb, outFormat, jpegQuality)
	}
	if err != nil {
		return Data{
			ContentType: mimeByFormat[srcFormat],
			Err:         errors.Wrap(err, "failed to encode thumbnail"),
		}
	}
	return Data{ContentType: mimeByFormat[outFormat], Data: encoded}
}

func encode(img image.Image, format imaging.Format, jpegQuality int) ([]byte, error) {
	var opts []imaging.EncodeOption
	if format == imaging.JPEG && jpegQuality > 0 {
		opts = append(opts, imaging.JPEGQuality(jpegQuality))
	}
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, format, opts...); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
