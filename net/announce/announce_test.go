package announce

import (
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/require"
)

func TestAnnouncementRoundTrip(t *testing.T) {
	sent := &Announcement{Username: "alice", Port: 9001}

	raw, err := cbor.Marshal(sent)
	require.NoError(t, err)

	got := &Announcement{}
	require.NoError(t, cbor.Unmarshal(raw, got))
	require.Equal(t, sent, got)
}

func TestMalformedDatagramIgnoredByDecode(t *testing.T) {
	got := &Announcement{}
	err := cbor.Unmarshal([]byte("not cbor at all"), got)
	require.Error(t, err)
}
