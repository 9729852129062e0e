// Package span splits attribute values that exceed the store's per-value size limit into
// ordered, sequence-prefixed chunks and reassembles them.
package span

import (
	"bytes"
	"compress/gzip"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"
	"unicode/utf8"
)

const (
	// PrefixWidth is the width of the zero-padded decimal sequence number on every chunk.
	PrefixWidth = 3

	// MaxChunks is the largest number of chunks a single value may be split into.
	MaxChunks = 1000

	// MinLength is the smallest usable maximum attribute length.
	MinLength = PrefixWidth + 1
)

var (
	// ErrLength is returned when the maximum attribute length cannot hold a chunk.
	ErrLength = errors.New("span: attribute length too small")

	// ErrOverflow is returned when a value needs more than MaxChunks chunks.
	ErrOverflow = errors.New("span: value exceeds maximum chunk count")

	// ErrCorrupt is returned when stored chunks cannot be reassembled.
	ErrCorrupt = errors.New("span: corrupt chunk data")

	// ErrNoKey is returned when an encrypting policy is used without a key.
	ErrNoKey = errors.New("span: encryption key not configured")
)

// Policy is a bitset describing how a value is spanned.
type Policy uint8

const (
	// Enabled splits the value across multiple attribute values.
	Enabled Policy = 1 << iota

	// Compress gzips the value before it is split.
	Compress

	// Encrypt seals the value with AES-GCM before it is split.
	Encrypt
)

// None leaves the value in a single attribute.
const None Policy = 0

// Normalize sets Enabled whenever Compress or Encrypt is set.
func (p Policy) Normalize() Policy {
	if p&(Compress|Encrypt) != 0 {
		p |= Enabled
	}
	return p
}

// Spanned reports whether the policy splits values at all.
func (p Policy) Spanned() bool {
	return p.Normalize()&Enabled != 0
}

// Encoded reports whether values are base64 encoded before chunking.
func (p Policy) Encoded() bool {
	return p&(Compress|Encrypt) != 0
}

// String returns a readable form such as "span+compress".
func (p Policy) String() string {
	p = p.Normalize()
	if p == None {
		return "none"
	}
	parts := []string{"span"}
	if p&Compress != 0 {
		parts = append(parts, "compress")
	}
	if p&Encrypt != 0 {
		parts = append(parts, "encrypt")
	}
	return strings.Join(parts, "+")
}

// Codec splits and joins values for one maximum attribute length.
type Codec struct {
	maxLength int
	aead      cipher.AEAD
}

// New creates a Codec. maxLength is the byte limit of a single stored attribute value,
// including the sequence prefix. An empty key disables the Encrypt policy.
func New(maxLength int, key string) (*Codec, error) {
	if maxLength < MinLength {
		return nil, fmt.Errorf("%w: %d, need at least %d", ErrLength, maxLength, MinLength)
	}
	c := &Codec{maxLength: maxLength}
	if key != "" {
		// Passphrase is hashed to an AES-256 key.
		h := sha256.Sum256([]byte(key))
		block, err := aes.NewCipher(h[:])
		if err != nil {
			return nil, fmt.Errorf("span: init cipher: %w", err)
		}
		c.aead, err = cipher.NewGCM(block)
		if err != nil {
			return nil, fmt.Errorf("span: init gcm: %w", err)
		}
	}
	return c, nil
}

// MaxLength returns the configured byte limit per stored value.
func (c *Codec) MaxLength() int {
	return c.maxLength
}

// Budget returns the byte limit for chunk content, excluding the prefix.
func (c *Codec) Budget() int {
	return c.maxLength - PrefixWidth
}

// Split divides value into prefixed chunks. An empty value yields a single empty chunk so
// that it survives a round trip.
func (c *Codec) Split(value string, p Policy) ([]string, error) {
	p = p.Normalize()
	if p.Encoded() {
		encoded, err := c.encode(value, p)
		if err != nil {
			return nil, err
		}
		// base64 output is ASCII, one character per byte.
		return c.splitFixed(encoded)
	}
	return c.splitRunes(value)
}

// splitRunes adds characters one at a time, tracking the UTF-8 byte length of the chunk.
func (c *Codec) splitRunes(value string) ([]string, error) {
	budget := c.Budget()
	var (
		chunks []string
		b      strings.Builder
		size   int
	)
	for i := 0; i < len(value); {
		_, w := utf8.DecodeRuneInString(value[i:])
		if w > budget {
			return nil, fmt.Errorf("%w: %d-byte character exceeds %d-byte chunk budget", ErrLength, w, budget)
		}
		if size+w > budget {
			if len(chunks) == MaxChunks-1 {
				return nil, fmt.Errorf("%w: more than %d chunks of %d bytes", ErrOverflow, MaxChunks, budget)
			}
			chunks = append(chunks, b.String())
			b.Reset()
			size = 0
		}
		b.WriteString(value[i : i+w])
		size += w
		i += w
	}
	chunks = append(chunks, b.String())
	return prefix(chunks), nil
}

func (c *Codec) splitFixed(value string) ([]string, error) {
	budget := c.Budget()
	n := (len(value) + budget - 1) / budget
	if n > MaxChunks {
		return nil, fmt.Errorf("%w: %d chunks of %d bytes", ErrOverflow, n, budget)
	}
	if n == 0 {
		return prefix([]string{""}), nil
	}
	chunks := make([]string, 0, n)
	for start := 0; start < len(value); start += budget {
		end := min(start+budget, len(value))
		chunks = append(chunks, value[start:end])
	}
	return prefix(chunks), nil
}

func prefix(chunks []string) []string {
	for i, chunk := range chunks {
		chunks[i] = fmt.Sprintf("%0*d%s", PrefixWidth, i, chunk)
	}
	return chunks
}

type part struct {
	seq  int
	body string
}

// Join reassembles chunks produced by Split, in any order. A chunk shorter than the prefix,
// a non-numeric prefix, or a duplicated or missing sequence number is corruption.
func (c *Codec) Join(chunks []string, p Policy) (string, error) {
	p = p.Normalize()
	if len(chunks) == 0 {
		return "", fmt.Errorf("%w: no chunks", ErrCorrupt)
	}
	parts := make([]part, 0, len(chunks))
	for _, chunk := range chunks {
		if len(chunk) < PrefixWidth {
			return "", fmt.Errorf("%w: chunk %q shorter than %d-digit prefix", ErrCorrupt, chunk, PrefixWidth)
		}
		seq, err := parseSeq(chunk[:PrefixWidth])
		if err != nil {
			return "", err
		}
		parts = append(parts, part{seq: seq, body: chunk[PrefixWidth:]})
	}
	slices.SortStableFunc(parts, func(a, b part) int { return a.seq - b.seq })

	var b strings.Builder
	for i, pt := range parts {
		if pt.seq != i {
			return "", fmt.Errorf("%w: expected chunk %0*d, found %0*d", ErrCorrupt, PrefixWidth, i, PrefixWidth, pt.seq)
		}
		b.WriteString(pt.body)
	}
	if p.Encoded() {
		return c.decode(b.String(), p)
	}
	return b.String(), nil
}

func parseSeq(s string) (int, error) {
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, fmt.Errorf("%w: invalid sequence prefix %q", ErrCorrupt, s)
		}
	}
	return strconv.Atoi(s)
}

func (c *Codec) encode(value string, p Policy) (string, error) {
	data := []byte(value)
	var err error
	if p&Compress != 0 {
		if data, err = compress(data); err != nil {
			return "", err
		}
	}
	if p&Encrypt != 0 {
		if data, err = c.seal(data); err != nil {
			return "", err
		}
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

func (c *Codec) decode(value string, p Policy) (string, error) {
	data, err := base64.StdEncoding.DecodeString(value)
	if err != nil {
		return "", fmt.Errorf("%w: base64: %v", ErrCorrupt, err)
	}
	if p&Encrypt != 0 {
		if data, err = c.open(data); err != nil {
			return "", err
		}
	}
	if p&Compress != 0 {
		if data, err = uncompress(data); err != nil {
			return "", err
		}
	}
	return string(data), nil
}

func (c *Codec) seal(data []byte) ([]byte, error) {
	if c.aead == nil {
		return nil, ErrNoKey
	}
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("span: nonce: %w", err)
	}
	return c.aead.Seal(nonce, nonce, data, nil), nil
}

func (c *Codec) open(data []byte) ([]byte, error) {
	if c.aead == nil {
		return nil, ErrNoKey
	}
	if len(data) < c.aead.NonceSize() {
		return nil, fmt.Errorf("%w: ciphertext too short", ErrCorrupt)
	}
	nonce, ciphertext := data[:c.aead.NonceSize()], data[c.aead.NonceSize():]
	plain, err := c.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: decrypt: %v", ErrCorrupt, err)
	}
	return plain, nil
}

func compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write(data); err != nil {
		return nil, fmt.Errorf("span: compress: %w", err)
	}
	// Flush and close the gzip writer
	if err := gz.Close(); err != nil {
		return nil, fmt.Errorf("span: close gzip writer: %w", err)
	}
	return buf.Bytes(), nil
}

func uncompress(data []byte) ([]byte, error) {
	gz, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: gzip: %v", ErrCorrupt, err)
	}
	var b bytes.Buffer
	if _, err = io.Copy(&b, gz); err != nil {
		return nil, fmt.Errorf("%w: gunzip: %v", ErrCorrupt, err)
	}
	if err = gz.Close(); err != nil {
		return nil, fmt.Errorf("%w: close gzip reader: %v", ErrCorrupt, err)
	}
	return b.Bytes(), nil
}
