package httpserver

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/robalobadob/poco/internal/genesis"
)

// maxImageBytes caps uploaded photos (decoded size).
const maxImageBytes = 10 << 20

// maxBodyBytes admits a maxImageBytes photo as base64 in JSON or as a
// multipart part, plus room for the envelope.
var maxBodyBytes = int64(base64.StdEncoding.EncodedLen(maxImageBytes)) + 64<<10

var (
	errBadImage      = errors.New("bad image")
	errImageTooLarge = errors.New("image too large")
)

type imageReq struct {
	Image string `json:"image"`
}

// decodeImage reads a photo either from a JSON data URI ({"image":"data:image/png;base64,..."})
// or from the multipart form field "image".
func decodeImage(w http.ResponseWriter, r *http.Request) (genesis.Image, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if ct == "multipart/form-data" {
		return decodeMultipart(r)
	}
	var body imageReq
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		return genesis.Image{}, readError(err)
	}
	return parseDataURI(body.Image)
}

// readError reports a body that hit maxBodyBytes as errImageTooLarge.
func readError(err error) error {
	var mbe *http.MaxBytesError
	if errors.As(err, &mbe) {
		return errImageTooLarge
	}
	return errBadImage
}

// writeImageError maps a decodeImage error to 413 or 400.
func writeImageError(w http.ResponseWriter, err error) {
	if errors.Is(err, errImageTooLarge) {
		writeError(w, http.StatusRequestEntityTooLarge, "image_too_large")
		return
	}
	writeError(w, http.StatusBadRequest, "bad_image")
}

func decodeMultipart(r *http.Request) (genesis.Image, error) {
	f, hdr, err := r.FormFile("image")
	if err != nil {
		return genesis.Image{}, readError(err)
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, maxImageBytes+1))
	if err != nil || len(data) == 0 {
		return genesis.Image{}, errBadImage
	}
	if len(data) > maxImageBytes {
		return genesis.Image{}, errImageTooLarge
	}
	mt := hdr.Header.Get("Content-Type")
	if !strings.HasPrefix(mt, "image/") {
		mt = http.DetectContentType(data)
	}
	if !strings.HasPrefix(mt, "image/") {
		return genesis.Image{}, errBadImage
	}
	return genesis.Image{Data: data, MIMEType: mt}, nil
}

// parseDataURI accepts "data:<mime>;base64,<payload>" or a bare base64 payload,
// which is taken to be JPEG.
func parseDataURI(s string) (genesis.Image, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return genesis.Image{}, errBadImage
	}
	mt := "image/jpeg"
	payload := s
	if strings.HasPrefix(s, "data:") {
		head, rest, ok := strings.Cut(s[len("data:"):], ",")
		if !ok || !strings.HasSuffix(head, ";base64") {
			return genesis.Image{}, errBadImage
		}
		if m := strings.TrimSuffix(head, ";base64"); m != "" {
			mt = m
		}
		payload = rest
	}
	if !strings.HasPrefix(mt, "image/") {
		return genesis.Image{}, errBadImage
	}
	if base64.StdEncoding.DecodedLen(len(payload)) > maxImageBytes+2 {
		return genesis.Image{}, errImageTooLarge
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil || len(data) == 0 {
		return genesis.Image{}, errBadImage
	}
	if len(data) > maxImageBytes {
		return genesis.Image{}, errImageTooLarge
	}
	return genesis.Image{Data: data, MIMEType: mt}, nil
}
