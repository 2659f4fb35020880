package protocol

import (
	"bufio"
	"errors"
	"io"
	"strings"
)

// MaxLineBytes bounds a single header or body line.
const MaxLineBytes = 64 * 1024

var errLineTooLong = errors.New("line too long")

// Reader decodes frames from a stream. It is not safe for concurrent use.
type Reader struct {
	r   *bufio.Reader
	dir Direction
	// Strict rejects frames whose body does not match the announced length.
	Strict bool
}

func NewReader(r io.Reader, dir Direction) *Reader {
	return &Reader{r: bufio.NewReader(r), dir: dir}
}

// ReadHeader blocks until a non-blank header line arrives.
// Transport errors are returned as is; malformed headers as *FormatError.
func (r *Reader) ReadHeader() (Header, error) {
	for {
		line, err := r.readLine()
		if errors.Is(err, errLineTooLong) {
			return Header{}, formatErr(line, false, "header exceeds %d bytes", MaxLineBytes)
		}
		if err != nil {
			return Header{}, err
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		h, err := ParseHeader(line, r.dir)
		if err != nil {
			var fe *FormatError
			if errors.As(err, &fe) && fe.Aligned {
				// the body line still belongs to this frame
				if _, berr := r.readLine(); berr != nil && !errors.Is(berr, errLineTooLong) {
					return Header{}, berr
				}
			}
			return Header{}, err
		}
		return h, nil
	}
}

// ReadBody reads the body line that follows h.
func (r *Reader) ReadBody(h Header) (Frame, error) {
	body, err := r.readLine()
	if errors.Is(err, errLineTooLong) {
		return Frame{}, formatErr(FormatHeader(Frame{Code: h.Code, UserID: h.UserID}), true, "body exceeds %d bytes", MaxLineBytes)
	}
	if err != nil {
		return Frame{}, err
	}
	f := Frame{Code: h.Code, Success: h.Success, UserID: h.UserID, Body: body}
	if r.Strict && f.BodyLength() != h.BodyLength {
		return Frame{}, formatErr(body, true, "body length %d does not match header %d", f.BodyLength(), h.BodyLength)
	}
	return f, nil
}

// ReadFrame reads a header and its body line.
func (r *Reader) ReadFrame() (Frame, error) {
	h, err := r.ReadHeader()
	if err != nil {
		return Frame{}, err
	}
	return r.ReadBody(h)
}

// readLine returns one line without its terminator. An over-long line is
// drained up to its newline and reported as errLineTooLong.
func (r *Reader) readLine() (string, error) {
	var sb strings.Builder
	tooLong := false
	for {
		chunk, isPrefix, err := r.r.ReadLine()
		if err != nil {
			if errors.Is(err, io.EOF) && sb.Len() > 0 && !tooLong {
				return sb.String(), nil
			}
			return "", err
		}
		if !tooLong {
			if sb.Len()+len(chunk) > MaxLineBytes {
				tooLong = true
				sb.Reset()
			} else {
				sb.Write(chunk)
			}
		}
		if !isPrefix {
			break
		}
	}
	if tooLong {
		return "", errLineTooLong
	}
	return sb.String(), nil
}

// Encode writes f as a header line followed by its body line.
func Encode(w io.Writer, f Frame) error {
	if strings.ContainsAny(f.Body, "\r\n") {
		return errors.New("frame body must be a single line")
	}
	_, err := io.WriteString(w, FormatHeader(f)+"\n"+f.Body+"\n")
	return err
}

// Marshal returns the wire bytes of f.
func Marshal(f Frame) ([]byte, error) {
	var sb strings.Builder
	if err := Encode(&sb, f); err != nil {
		return nil, err
	}
	return []byte(sb.String()), nil
}
