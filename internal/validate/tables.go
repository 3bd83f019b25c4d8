package validate

// sigPart is one magic-byte run at a fixed offset. All parts must match
// within the first sigPrefixLen bytes of the payload.
type sigPart struct {
	offset int
	bytes  []byte
}

// typeSpec describes one entry in the declared-type allow-list.
type typeSpec struct {
	extensions []string
	signature  []sigPart // empty for text types (no reliable magic)
	maxSize    int64
	minSize    int64 // below this the payload is implausibly small
	image      bool
}

const (
	// sigPrefixLen bounds how many leading bytes signature checks read.
	sigPrefixLen = 16
	// scanPrefixLen bounds how many leading bytes the pattern scan reads.
	scanPrefixLen = 64 * 1024

	// absoluteMaxSize is the hard upper bound regardless of declared type.
	absoluteMaxSize = 100 << 20

	// maxImageDimension caps each decoded image axis.
	maxImageDimension = 10000
	// maxImagePixels caps total decoded pixel count (50 megapixels).
	maxImagePixels = 50_000_000

	// maxNameLength caps sanitized filenames, in runes.
	maxNameLength = 255

	// maliciousThreshold is the scan confidence above which an item is
	// treated as malicious.
	maliciousThreshold = 0.5
)

// typeSpecs maps declared MIME types to their required extensions,
// magic-byte signatures, and size bounds. Mismatches are errors, not
// warnings.
var typeSpecs = map[string]typeSpec{
	"image/jpeg": {
		extensions: []string{".jpg", ".jpeg"},
		signature:  []sigPart{{0, []byte{0xFF, 0xD8, 0xFF}}},
		maxSize:    10 << 20,
		minSize:    128,
		image:      true,
	},
	"image/png": {
		extensions: []string{".png"},
		signature:  []sigPart{{0, []byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A}}},
		maxSize:    10 << 20,
		minSize:    67,
		image:      true,
	},
	"image/gif": {
		extensions: []string{".gif"},
		signature:  []sigPart{{0, []byte("GIF8")}},
		maxSize:    10 << 20,
		minSize:    35,
		image:      true,
	},
	"application/pdf": {
		extensions: []string{".pdf"},
		signature:  []sigPart{{0, []byte("%PDF")}},
		maxSize:    25 << 20,
		minSize:    256,
	},
	"text/plain": {
		extensions: []string{".txt", ".text"},
		maxSize:    1 << 20,
		minSize:    1,
	},
	"text/csv": {
		extensions: []string{".csv"},
		maxSize:    1 << 20,
		minSize:    1,
	},
}
