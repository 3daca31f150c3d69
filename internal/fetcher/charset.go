package fetcher

import (
	"io"
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/transform"
)

// DecodeReader wraps r so it yields UTF-8 from the named charset. Empty,
// "utf-8" and "utf8" return r unchanged. Names follow the WHATWG index, so
// "latin1" and "iso-8859-1" decode as windows-1252.
func DecodeReader(r io.Reader, charset string) (io.Reader, error) {
	name := strings.ToLower(strings.TrimSpace(charset))
	if name == "" || name == "utf-8" || name == "utf8" {
		return r, nil
	}
	enc, err := htmlindex.Get(name)
	if err != nil {
		return nil, eris.Wrapf(err, "charset: unknown encoding %q", charset)
	}
	return transform.NewReader(r, enc.NewDecoder()), nil
}
