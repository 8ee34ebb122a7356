// Package filetransfer moves files between peers as base64 file_chunk
// messages over the ordinary message path. It collaborates with the
// membership engine through two hooks only: a raw send primitive and the
// inbound file_chunk callback.
package filetransfer

import (
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	log "github.com/sirupsen/logrus"

	"peerchat/chat/protocol"
)

// ChunkSize is how many file bytes go into one file_chunk message.
const ChunkSize = 8192

// Sender delivers one protocol message to a peer address.
type Sender func(addr string, msg *protocol.Message) error

type transfer struct {
	filename string
	sender   string
	data     []byte
}

// Manager chunks outbound files and reassembles inbound ones.
type Manager struct {
	username  string
	send      Sender
	downloads string
	notify    func(text string)

	mu       sync.Mutex
	incoming map[string]*transfer // keyed by transfer_id
}

// New creates the downloads directory if needed. notify may be nil.
func New(username string, send Sender, downloads string, notify func(string)) (*Manager, error) {
	if err := os.MkdirAll(downloads, 0o755); err != nil {
		return nil, fmt.Errorf("filetransfer: create %s: %w", downloads, err)
	}
	return &Manager{
		username:  username,
		send:      send,
		downloads: downloads,
		notify:    notify,
		incoming:  make(map[string]*transfer),
	}, nil
}

// SendFile streams one file to addr in ChunkSize pieces. The end of the file
// is marked by an empty chunk with is_last set.
func (m *Manager) SendFile(path, addr string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("filetransfer: %w", err)
	}
	defer f.Close()

	transferID := uuid.NewString()
	filename := filepath.Base(path)

	buf := make([]byte, ChunkSize)
	for {
		n, err := f.Read(buf)
		if n > 0 {
			if serr := m.sendChunk(addr, transferID, filename, buf[:n], false); serr != nil {
				return serr
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("filetransfer: read %s: %w", path, err)
		}
	}
	if err := m.sendChunk(addr, transferID, filename, nil, true); err != nil {
		return err
	}

	log.Infof("filetransfer: sent %s to %s (transfer %s)", filename, addr, transferID)
	return nil
}

func (m *Manager) sendChunk(addr, transferID, filename string, chunk []byte, isLast bool) error {
	msg := &protocol.Message{
		Type:       protocol.TypeFileChunk,
		Username:   m.username,
		TransferID: transferID,
		Filename:   filename,
		Data:       base64.StdEncoding.EncodeToString(chunk),
		IsLast:     isLast,
	}
	if err := m.send(addr, msg); err != nil {
		return fmt.Errorf("filetransfer: send chunk to %s: %w", addr, err)
	}
	return nil
}

// HandleChunk is the inbound file_chunk callback. Completed transfers are
// written to the downloads directory.
func (m *Manager) HandleChunk(msg *protocol.Message) {
	chunk, err := base64.StdEncoding.DecodeString(msg.Data)
	if err != nil {
		log.Warnf("filetransfer: undecodable chunk for transfer %s: %v", msg.TransferID, err)
		return
	}

	m.mu.Lock()
	t, ok := m.incoming[msg.TransferID]
	if !ok {
		t = &transfer{filename: filepath.Base(msg.Filename), sender: msg.Sender}
		m.incoming[msg.TransferID] = t
	}
	t.data = append(t.data, chunk...)
	last := msg.IsLast
	if last {
		delete(m.incoming, msg.TransferID)
	}
	m.mu.Unlock()

	if !ok {
		m.notifyUI(fmt.Sprintf("Receiving file '%s' from %s...", t.filename, t.sender))
	}

	if !last {
		return
	}

	savePath := filepath.Join(m.downloads, t.filename)
	if err := os.WriteFile(savePath, t.data, 0o644); err != nil {
		log.Errorf("filetransfer: saving %s: %v", savePath, err)
		m.notifyUI(fmt.Sprintf("Failed to save file '%s': %v", t.filename, err))
		return
	}

	m.notifyUI(fmt.Sprintf("File '%s' received from %s and saved to %s", t.filename, t.sender, savePath))
	log.Infof("filetransfer: saved %s (transfer %s)", savePath, msg.TransferID)
}

func (m *Manager) notifyUI(text string) {
	if m.notify != nil {
		m.notify(text)
	}
}
