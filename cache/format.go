package cache

// Leading magic bytes for the image containers the signage renderer
// understands.
const (
	magicPNG    = 0x89
	magicJPEG   = 0xFF
	magicGIF    = 0x47
	magicTIFFII = 0x49
	magicTIFFMM = 0x4D
)

// Format is an image container format detected from content bytes.
type Format int

const (
	FormatUnknown Format = iota
	FormatPNG
	FormatJPEG
	FormatGIF
	FormatTIFF
)

// Ext returns the file extension used when storing an asset of this format.
// Unknown content is stored as ".data" rather than rejected; the renderer
// decides what to do with it.
func (f Format) Ext() string {
	switch f {
	case FormatPNG:
		return "png"
	case FormatJPEG:
		return "jpeg"
	case FormatGIF:
		return "gif"
	case FormatTIFF:
		return "tiff"
	default:
		return "data"
	}
}

// String returns the format name.
func (f Format) String() string {
	switch f {
	case FormatPNG:
		return "PNG"
	case FormatJPEG:
		return "JPEG"
	case FormatGIF:
		return "GIF"
	case FormatTIFF:
		return "TIFF"
	default:
		return "Unknown"
	}
}

// FormatForExt maps a stored file extension back to its format. Used when a
// cache probe hits and the bytes are not re-read.
func FormatForExt(ext string) Format {
	switch ext {
	case "png":
		return FormatPNG
	case "jpeg", "jpg":
		return FormatJPEG
	case "gif":
		return FormatGIF
	case "tiff", "tif":
		return FormatTIFF
	default:
		return FormatUnknown
	}
}

// SniffFormat inspects the leading byte of content. One byte is enough to
// tell the supported containers apart; nothing is ever decoded.
func SniffFormat(b []byte) Format {
	if len(b) == 0 {
		return FormatUnknown
	}
	switch b[0] {
	case magicPNG:
		return FormatPNG
	case magicJPEG:
		return FormatJPEG
	case magicGIF:
		return FormatGIF
	case magicTIFFII, magicTIFFMM:
		return FormatTIFF
	default:
		return FormatUnknown
	}
}
