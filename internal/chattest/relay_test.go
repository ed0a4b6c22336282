package chattest_test

import (
	"bufio"
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omochice/touchfish-chat/internal/chattest"
	"github.com/omochice/touchfish-chat/pkg/protocol"
)

func dialRelay(t *testing.T, r *chattest.Relay) (net.Conn, *bufio.Reader) {
	t.Helper()
	conn, err := net.Dial("tcp", r.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	br := bufio.NewReader(conn)
	welcome, err := br.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, protocol.WelcomeHint+"\n", welcome)
	return conn, br
}

func TestRelay_TCP_EchoesChatAndForwardsFrames(t *testing.T) {
	r, err := chattest.NewTCP(nil)
	require.NoError(t, err)
	defer r.Close()

	alice, aliceIn := dialRelay(t, r)
	_, bobIn := dialRelay(t, r)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, r.WaitForClients(ctx, 2))

	frame, err := protocol.EncodeFrame(protocol.FileEnd{})
	require.NoError(t, err)
	_, err = alice.Write(append(frame, []byte("alice: hi\n")...))
	require.NoError(t, err)

	// The author does not get its own frame back, only the chat echo.
	line, err := aliceIn.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "alice: hi\n", line)

	line, err = bobIn.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, string(frame), line)
	line, err = bobIn.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "alice: hi\n", line)

	r.Broadcast(protocol.SystemPrefix + " maintenance")
	line, err = bobIn.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, protocol.SystemPrefix+" maintenance\n", line)
}

func TestRelay_UnregistersOnDisconnect(t *testing.T) {
	r, err := chattest.NewTCP(nil)
	require.NoError(t, err)
	defer r.Close()

	conn, _ := dialRelay(t, r)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, r.WaitForClients(ctx, 1))

	conn.Close()
	assert.Eventually(t, func() bool { return r.ClientCount() == 0 }, 5*time.Second, 10*time.Millisecond)
}
