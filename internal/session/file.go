package session

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/gorilla/securecookie"
)

const sealName = "slotgrab-session"

// ErrSealed is returned when a sealed file is read without keys.
var ErrSealed = errors.New("session file is sealed; set COOKIE_HASH_KEY and COOKIE_BLOCK_KEY")

// Codec seals cookie snapshots with an HMAC and AES key pair.
type Codec struct {
	sc *securecookie.SecureCookie
}

func NewCodec(hashKey, blockKey []byte) *Codec {
	sc := securecookie.New(hashKey, blockKey)
	sc.SetSerializer(securecookie.JSONEncoder{})
	// snapshots are files, not browser cookies: no size or age limit
	sc.MaxLength(0)
	sc.MaxAge(0)
	return &Codec{sc: sc}
}

func (c *Codec) Seal(cookies []Cookie) (string, error) {
	return c.sc.Encode(sealName, cookies)
}

func (c *Codec) Open(sealed string) ([]Cookie, error) {
	var out []Cookie
	if err := c.sc.Decode(sealName, sealed, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// LoadFile reads a session file. Plain files hold a browser cookie export: a JSON
// list of {name, value, domain, path} objects or a flat {name: value} map.
// Anything else is treated as a sealed snapshot and needs codec.
func LoadFile(path string, codec *Codec) ([]Cookie, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	b = bytes.TrimSpace(b)
	if len(b) == 0 {
		return nil, fmt.Errorf("session file %s is empty", path)
	}
	switch b[0] {
	case '[':
		var list []Cookie
		if err := json.Unmarshal(b, &list); err != nil {
			return nil, fmt.Errorf("parse session file: %w", err)
		}
		return list, nil
	case '{':
		var m map[string]string
		if err := json.Unmarshal(b, &m); err != nil {
			return nil, fmt.Errorf("parse session file: %w", err)
		}
		names := make([]string, 0, len(m))
		for k := range m {
			names = append(names, k)
		}
		sort.Strings(names)
		list := make([]Cookie, 0, len(m))
		for _, k := range names {
			list = append(list, Cookie{Name: k, Value: m[k]})
		}
		return list, nil
	}
	if codec == nil {
		return nil, ErrSealed
	}
	list, err := codec.Open(string(b))
	if err != nil {
		return nil, fmt.Errorf("open sealed session: %w", err)
	}
	return list, nil
}

// SaveFile writes cookies as plain JSON, or sealed when codec is set. The file is
// replaced atomically and readable only by the owner.
func SaveFile(path string, cookies []Cookie, codec *Codec) error {
	cookies = append([]Cookie(nil), cookies...)
	sort.Slice(cookies, func(i, j int) bool { return cookies[i].Name < cookies[j].Name })
	var data []byte
	if codec != nil {
		s, err := codec.Seal(cookies)
		if err != nil {
			return err
		}
		data = []byte(s + "\n")
	} else {
		b, err := json.MarshalIndent(cookies, "", "  ")
		if err != nil {
			return err
		}
		data = append(b, '\n')
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".session-*")
	if err != nil {
		return err
	}
	defer func() { _ = os.Remove(tmp.Name()) }()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// Load reads a session file and builds a Context for siteURL.
func Load(path, siteURL string, codec *Codec) (*Context, error) {
	cookies, err := LoadFile(path, codec)
	if err != nil {
		return nil, err
	}
	c, err := New(siteURL, cookies)
	if err != nil {
		return nil, err
	}
	if c.AccessHash() == "" {
		return c, ErrNoAccessHash
	}
	return c, nil
}
