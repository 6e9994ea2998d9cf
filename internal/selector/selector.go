// Package selector translates opaque third-party entry ids to and from
// (provider selector, link id, provider-native path) triples.
//
// An id looks like "drive-12" for the root of link 12 or "drive-12-<path>" for an
// entry below it. Inside <path> the characters '%' and '|' are percent-escaped and
// '/' is written as '|', which keeps the mapping bijective.
package selector

import (
	"strconv"
	"strings"

	"go-docspace/internal/model"
)

type Selector string

const (
	Box         Selector = "box"
	Dropbox     Selector = "dropbox"
	GoogleDrive Selector = "drive"
	OneDrive    Selector = "onedrive"
	SharePoint  Selector = "spoint"
	WebDav      Selector = "webdav"
)

var byProvider = map[model.ProviderType]Selector{
	model.ProviderBox:         Box,
	model.ProviderDropbox:     Dropbox,
	model.ProviderGoogleDrive: GoogleDrive,
	model.ProviderOneDrive:    OneDrive,
	model.ProviderSharePoint:  SharePoint,
	model.ProviderWebDav:      WebDav,
}

// For returns the selector of a provider type.
func For(p model.ProviderType) (Selector, bool) {
	s, ok := byProvider[p]
	return s, ok
}

func (s Selector) Provider() model.ProviderType {
	p, _ := providerOf(s)
	return p
}

func (s Selector) valid() bool {
	_, ok := providerOf(s)
	return ok
}

func providerOf(s Selector) (model.ProviderType, bool) {
	for p, sel := range byProvider {
		if sel == s {
			return p, true
		}
	}
	return "", false
}

// ID is a decoded third-party identifier.
type ID struct {
	Selector Selector
	LinkID   int
	Path     string
}

func (id ID) String() string { return Encode(id.Selector, id.LinkID, id.Path) }

// IsRoot reports whether the id addresses the link's root folder.
func (id ID) IsRoot() bool { return id.Path == "" }

// Child returns the id of the entry at nativePath under the same link.
func (id ID) Child(nativePath string) ID {
	return ID{Selector: id.Selector, LinkID: id.LinkID, Path: nativePath}
}

func Encode(sel Selector, linkID int, nativePath string) string {
	var b strings.Builder
	b.WriteString(string(sel))
	b.WriteByte('-')
	b.WriteString(strconv.Itoa(linkID))
	if nativePath == "" {
		return b.String()
	}
	b.WriteByte('-')
	for _, r := range nativePath {
		switch r {
		case '%':
			b.WriteString("%25")
		case '|':
			b.WriteString("%7C")
		case '/':
			b.WriteByte('|')
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Decode fails with a *model.FormatError when id is not a canonical third-party id.
func Decode(id string) (ID, error) {
	parts := strings.SplitN(id, "-", 3)
	if len(parts) < 2 {
		return ID{}, &model.FormatError{Value: id, Reason: "missing link id"}
	}

	sel := Selector(parts[0])
	if !sel.valid() {
		return ID{}, &model.FormatError{Value: id, Reason: "unknown provider selector"}
	}

	linkID, err := parseLinkID(parts[1])
	if err != nil {
		return ID{}, &model.FormatError{Value: id, Reason: err.Error()}
	}

	decoded := ID{Selector: sel, LinkID: linkID}
	if len(parts) == 2 {
		return decoded, nil
	}
	if parts[2] == "" {
		return ID{}, &model.FormatError{Value: id, Reason: "empty path"}
	}

	p, err := unescape(parts[2])
	if err != nil {
		return ID{}, &model.FormatError{Value: id, Reason: err.Error()}
	}
	decoded.Path = p
	return decoded, nil
}

// IsOwnedBy reports whether id belongs to the given provider selector.
func IsOwnedBy(id string, sel Selector) bool {
	decoded, err := Decode(id)
	return err == nil && decoded.Selector == sel
}

// IsThirdParty reports whether id is a syntactically valid third-party id.
func IsThirdParty(id string) bool {
	_, err := Decode(id)
	return err == nil
}

type parseError string

func (e parseError) Error() string { return string(e) }

func parseLinkID(raw string) (int, error) {
	if raw == "" {
		return 0, parseError("missing link id")
	}
	if raw[0] == '0' {
		return 0, parseError("link id must not have leading zeros")
	}
	for _, c := range raw {
		if c < '0' || c > '9' {
			return 0, parseError("link id must be numeric")
		}
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, parseError("link id out of range")
	}
	return n, nil
}

func unescape(s string) (string, error) {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '|':
			b.WriteByte('/')
		case '%':
			if i+2 >= len(s) {
				return "", parseError("truncated escape")
			}
			switch s[i+1 : i+3] {
			case "25":
				b.WriteByte('%')
			case "7C":
				b.WriteByte('|')
			default:
				return "", parseError("invalid escape %" + s[i+1:i+3])
			}
			i += 2
		default:
			b.WriteByte(s[i])
		}
	}
	return b.String(), nil
}
