package protocol

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	req := require.New(t)

	frames := []struct {
		dir   Direction
		frame Frame
	}{
		{Request, NewRequest(ActionLogin, Unauthenticated, `{"name":"ana","password":"x"}`)},
		{Request, NewRequest(ActionLeaveGroup, 42, `{"groupId":7}`)},
		{Request, NewRequest(ActionLogout, 3, "")},
		{Response, NewEvent(EventResultOK, 1, `{}`)},
		{Response, NewEvent(EventErrorAuth, 9, `{"error":"nope"}`)},
		{Response, NewEvent(EventGroupDeleted, 5, `{"id":1,"name":"ñandú"}`)},
	}

	for _, tc := range frames {
		var buf bytes.Buffer
		req.NoError(Encode(&buf, tc.frame))

		got, err := NewReader(&buf, tc.dir).ReadFrame()
		req.NoError(err)
		req.Equal(tc.frame, got)
	}
}

func TestEncodeHeaderLayout(t *testing.T) {
	req := require.New(t)

	b, err := Marshal(NewEvent(EventErrorClient, 4, `{"error":"é"}`))
	req.NoError(err)
	req.Equal("CHAT 1 false 13 4\n{\"error\":\"é\"}\n", string(b))

	b, err = Marshal(NewRequest(ActionFetchMessages, 4, ""))
	req.NoError(err)
	req.Equal("CHAT 4 true 0 4\n\n", string(b))
}

func TestEncodeRejectsMultilineBody(t *testing.T) {
	err := Encode(io.Discard, NewEvent(EventResultOK, 1, "a\nb"))
	require.Error(t, err)
}

func TestParseHeaderErrors(t *testing.T) {
	cases := map[string]string{
		"wrong tag":         "CAHT 1 true 0 1",
		"too few fields":    "CHAT 1 true",
		"too many fields":   "CHAT 1 true 0 1 9",
		"code out of range": "CHAT 11 true 0 1",
		"negative code":     "CHAT -1 true 0 1",
		"bad code":          "CHAT x true 0 1",
		"bad success":       "CHAT 1 yes 0 1",
		"bad length":        "CHAT 1 true l 1",
		"bad user":          "CHAT 1 true 0 u",
	}
	for name, line := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseHeader(line, Request)
			var fe *FormatError
			require.ErrorAs(t, err, &fe)
		})
	}
}

func TestParseHeaderFourFields(t *testing.T) {
	req := require.New(t)

	h, err := ParseHeader("CHAT 5 12 3", Request)
	req.NoError(err)
	req.Equal(Header{Code: int(ActionSendMessage), Success: true, BodyLength: 12, UserID: 3}, h)
}

func TestParseHeaderResponseRange(t *testing.T) {
	req := require.New(t)

	_, err := ParseHeader("CHAT 12 true 0 1", Response)
	req.NoError(err)

	_, err = ParseHeader("CHAT 13 true 0 1", Response)
	req.Error(err)
}

func TestReaderSkipsBlankLinesAndConsumesBodyOnAlignedError(t *testing.T) {
	req := require.New(t)

	// Given a stream with a bad code followed by a valid frame
	in := "\n\nCHAT 99 true 2 1\n{}\nCHAT 2 true 0 1\n\n"
	r := NewReader(strings.NewReader(in), Request)

	// When reading twice
	_, err := r.ReadFrame()
	var fe *FormatError
	req.ErrorAs(err, &fe)
	req.True(fe.Aligned)

	// Then the body of the bad frame was consumed and the next frame is intact
	f, err := r.ReadFrame()
	req.NoError(err)
	req.Equal(ActionLogout, f.Action())
	req.Equal(int64(1), f.UserID)
}

func TestReaderDoesNotConsumeBodyWithoutTag(t *testing.T) {
	req := require.New(t)

	r := NewReader(strings.NewReader("hello\nCHAT 2 true 0 1\n\n"), Request)

	_, err := r.ReadFrame()
	var fe *FormatError
	req.ErrorAs(err, &fe)
	req.False(fe.Aligned)

	f, err := r.ReadFrame()
	req.NoError(err)
	req.Equal(ActionLogout, f.Action())
}

func TestReaderLengthMismatch(t *testing.T) {
	req := require.New(t)
	in := "CHAT 2 true 10 1\n{}\n"

	// lenient by default
	f, err := NewReader(strings.NewReader(in), Request).ReadFrame()
	req.NoError(err)
	req.Equal("{}", f.Body)

	strict := NewReader(strings.NewReader(in), Request)
	strict.Strict = true
	_, err = strict.ReadFrame()
	var fe *FormatError
	req.ErrorAs(err, &fe)
}

func TestReaderLineTooLong(t *testing.T) {
	req := require.New(t)

	in := "CHAT 5 true 1 1\n" + strings.Repeat("x", MaxLineBytes+10) + "\nCHAT 2 true 0 1\n\n"
	r := NewReader(strings.NewReader(in), Request)

	_, err := r.ReadFrame()
	var fe *FormatError
	req.ErrorAs(err, &fe)

	f, err := r.ReadFrame()
	req.NoError(err)
	req.Equal(ActionLogout, f.Action())
}

func TestReaderEOF(t *testing.T) {
	_, err := NewReader(strings.NewReader(""), Request).ReadFrame()
	require.ErrorIs(t, err, io.EOF)
}

func TestEnumStrings(t *testing.T) {
	req := require.New(t)
	req.Equal("LEAVE_GROUP", ActionLeaveGroup.String())
	req.Equal("GROUP_DELETED", EventGroupDeleted.String())
	req.False(ActionLogin.RequiresAuth())
	req.True(ActionLogout.RequiresAuth())
	req.True(EventErrorServer.IsError())
	req.False(EventMessageSent.IsError())
}
