package extract

import (
	"bytes"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
)

// textEncodings are tried in order after UTF-8. UTF-16 is only accepted with
// a byte order mark.
var textEncodings = []struct {
	name string
	enc  encoding.Encoding
}{
	{"utf-16", unicode.UTF16(unicode.LittleEndian, unicode.ExpectBOM)},
	{"windows-1251", charmap.Windows1251},
	{"iso-8859-1", charmap.ISO8859_1},
}

// decodeText returns the content as UTF-8 and the name of the encoding used.
func decodeText(data []byte) (string, string) {
	if utf8.Valid(data) {
		return strings.TrimPrefix(string(data), "\ufeff"), "utf-8"
	}

	for _, e := range textEncodings {
		out, err := e.enc.NewDecoder().Bytes(data)
		if err != nil || bytes.ContainsRune(out, utf8.RuneError) {
			continue
		}
		return string(out), e.name
	}

	return strings.ToValidUTF8(string(data), "\uFFFD"), "utf-8-replace"
}
