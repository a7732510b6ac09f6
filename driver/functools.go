package driver

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"
)

// IntToBig encodes num as 4 big-endian bytes, the CAN identifier prefix of a PassThru frame.
func IntToBig(num uint32) []byte {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, num)
	return buf
}

// BigToInt decodes up to 4 big-endian bytes; shorter input is left padded.
func BigToInt(buf []byte) uint32 {
	if len(buf) < 4 {
		padded := make([]byte, 4)
		copy(padded[4-len(buf):], buf)
		buf = padded
	}
	return binary.BigEndian.Uint32(buf[:4])
}

// CompactID encodes id on one byte when it fits, otherwise on four.
// J1850 and SCI filters match the first header byte only.
func CompactID(id uint32) []byte {
	if id < 0x100 {
		return []byte{byte(id)}
	}
	return IntToBig(id)
}

// ParseHex 解析带空格、冒号或 0x 前缀的十六进制字符串, e.g. "22 F1 90" or "0x22F190".
func ParseHex(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	r := strings.NewReplacer(" ", "", ":", "", "-", "", ",", "", "0x", "", "0X", "")
	clean := r.Replace(s)
	if len(clean)%2 != 0 {
		return nil, fmt.Errorf("odd number of hex digits in %q", s)
	}
	data, err := hex.DecodeString(clean)
	if err != nil {
		return nil, fmt.Errorf("invalid hex %q: %w", s, err)
	}
	return data, nil
}

// HexToASCII keeps the printable bytes of data, as used for VIN and ECU id strings.
func HexToASCII(data []byte) string {
	var b strings.Builder
	for _, c := range data {
		if c >= 0x20 && c < 0x7F {
			b.WriteByte(c)
		}
	}
	return b.String()
}

// SplitBlock cuts data into blockSize chunks; the last one may be shorter.
func SplitBlock(data []byte, blockSize int) [][]byte {
	if blockSize <= 0 {
		return [][]byte{data}
	}
	var blocks [][]byte
	for i := 0; i < len(data); i += blockSize {
		end := i + blockSize
		if end > len(data) {
			end = len(data)
		}
		blocks = append(blocks, data[i:end])
	}
	return blocks
}
