package reconcile

import (
	"os"
	"path/filepath"
	"strings"
)

const (
	GuideSuffix   = "_Guia"
	ReceiptSuffix = "_Comprovante"
	OutputSuffix  = "_PB"
)

// Resolution is the result of looking up the receipt for a guide.
type Resolution int

const (
	NoPairingKey Resolution = iota
	ReceiptNotFound
	ReceiptFound
)

func (r Resolution) String() string {
	switch r {
	case NoPairingKey:
		return "no pairing key"
	case ReceiptNotFound:
		return "receipt not found"
	case ReceiptFound:
		return "receipt found"
	default:
		return "unknown"
	}
}

// ExtractKey returns the pairing key of a guide stem, i.e. the stem with the
// trailing "_Guia" removed. The match is literal and case-sensitive.
func ExtractKey(stem string) (string, bool) {
	if !strings.HasSuffix(stem, GuideSuffix) {
		return "", false
	}
	return strings.TrimSuffix(stem, GuideSuffix), true
}

// ReceiptKey is the receipt-side counterpart of ExtractKey.
func ReceiptKey(stem string) (string, bool) {
	if !strings.HasSuffix(stem, ReceiptSuffix) {
		return "", false
	}
	return strings.TrimSuffix(stem, ReceiptSuffix), true
}

func GuideStem(key string) string   { return key + GuideSuffix }
func ReceiptStem(key string) string { return key + ReceiptSuffix }

// OutputName replaces the trailing "_Guia" of a guide stem with "_PB". Stems
// without the suffix are returned unchanged.
func OutputName(guideStem string) string {
	key, ok := ExtractKey(guideStem)
	if !ok {
		return guideStem
	}
	return key + OutputSuffix
}

// ResolveReceipt finds <receiptsDir>/<key>_Comprovante.pdf for a guide stem.
// The path is only returned with ReceiptFound.
func ResolveReceipt(guideStem, receiptsDir string) (string, Resolution) {
	key, ok := ExtractKey(guideStem)
	if !ok {
		return "", NoPairingKey
	}
	candidate := filepath.Join(receiptsDir, ReceiptStem(key)+pdfExt)
	fi, err := os.Stat(candidate)
	if err != nil || fi.IsDir() {
		return "", ReceiptNotFound
	}
	if abs, err := filepath.Abs(candidate); err == nil {
		candidate = abs
	}
	return candidate, ReceiptFound
}
