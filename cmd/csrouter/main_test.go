package main

import (
	"bytes"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cs-router/message"
	"cs-router/stream"
)

func textStream(t *testing.T, build func(s *stream.Stream)) string {
	s := &stream.Stream{}
	build(s)
	text, err := s.ToString()
	require.NoError(t, err)
	return text
}

func TestPrint(t *testing.T) {
	text := textStream(t, func(s *stream.Stream) {
		s.Invoke(5, "SetRadius", message.Float(0.5))
	})

	var stdout, stderr bytes.Buffer
	require.NoError(t, run([]string{"print", text}, strings.NewReader(""), &stdout, &stderr))
	assert.Equal(t, "Message 0 = Invoke id=5 SetRadius(float 0.5)\n", stdout.String())
}

func TestPrintFromStdin(t *testing.T) {
	a := textStream(t, func(s *stream.Stream) { s.Delete(6) })
	b := textStream(t, func(s *stream.Stream) { s.Delete(7) })

	var stdout, stderr bytes.Buffer
	require.NoError(t, run([]string{"print"}, strings.NewReader(a+"\n\n"+b+"\n"), &stdout, &stderr))
	assert.Equal(t, "Message 0 = Delete id=6()\nMessage 0 = Delete id=7()\n", stdout.String())
}

func TestPrintMalformed(t *testing.T) {
	var stdout, stderr bytes.Buffer
	err := run([]string{"print", "%%%"}, strings.NewReader(""), &stdout, &stderr)
	assert.Error(t, err)
}

func TestSendToClient(t *testing.T) {
	text := textStream(t, func(s *stream.Stream) {
		s.Invoke(message.ProcessModuleID, "UniqueID")
	})
	var stdout, stderr bytes.Buffer
	require.NoError(t, run([]string{"send", "-to", "Client", text}, strings.NewReader(""), &stdout, &stderr))
}

func TestSendPrintsResult(t *testing.T) {
	text := textStream(t, func(s *stream.Stream) {
		s.Invoke(message.ProcessModuleID, "UniqueID")
	})
	var stdout, stderr bytes.Buffer
	require.NoError(t, run([]string{"send", "-to", "Client", "-result", text}, strings.NewReader(""), &stdout, &stderr))

	result := &stream.Stream{}
	require.NoError(t, result.FromString(strings.TrimSpace(stdout.String())))
	require.Equal(t, 1, result.Len())
	rec, _ := result.Record(0)
	assert.Equal(t, message.Reply, rec.Command)
	require.Len(t, rec.Args, 1)
	assert.Equal(t, message.KindID, rec.Args[0].Kind)
}

func TestSendToUnreachableRole(t *testing.T) {
	text := textStream(t, func(s *stream.Stream) {
		s.Invoke(message.ProcessModuleID, "UniqueID")
	})
	var stdout, stderr bytes.Buffer
	err := run([]string{"send", "-to", "DataServer", text}, strings.NewReader(""), &stdout, &stderr)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DataServer")
}

func TestServeRejectsClientRole(t *testing.T) {
	var stdout, stderr bytes.Buffer
	err := run([]string{"serve"}, strings.NewReader(""), &stdout, &stderr)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server role")
}

func TestServeAcceptsStreams(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := listener.Addr().String()
	listener.Close()

	path := filepath.Join(t.TempDir(), "server.yaml")
	require.NoError(t, os.WriteFile(path, []byte("role: data-server\nlisten: \""+addr+"\"\nlog:\n  level: error\n"), 0o600))

	go run([]string{"serve", "-config", path}, strings.NewReader(""), &bytes.Buffer{}, &bytes.Buffer{})

	var conn net.Conn
	require.Eventually(t, func() bool {
		conn, err = net.DialTimeout("tcp", addr, 100*time.Millisecond)
		return err == nil
	}, 2*time.Second, 20*time.Millisecond)
	conn.Close()
}

func TestUnknownCommand(t *testing.T) {
	var stdout, stderr bytes.Buffer
	assert.Error(t, run([]string{"launch"}, strings.NewReader(""), &stdout, &stderr))
	assert.Contains(t, stderr.String(), "Usage:")
	assert.Error(t, run(nil, strings.NewReader(""), &stdout, &stderr))
	require.NoError(t, run([]string{"help"}, strings.NewReader(""), &stdout, &stderr))
}

func TestSetBuildsVectorRecords(t *testing.T) {
	vf := vectorFlags{command: "SetExtent", ints: true, repeat: true, index: true, per: 2}
	prop, err := vf.build([]string{"1", "2", "3", "4"})
	require.NoError(t, err)

	s := &stream.Stream{}
	prop.AppendCommandToStream(s, 7)
	assert.Equal(t, []message.Record{
		{Command: message.Invoke, Target: 7, Method: "SetExtent", Args: []message.Value{message.Int(0), message.Int(1), message.Int(2)}},
		{Command: message.Invoke, Target: 7, Method: "SetExtent", Args: []message.Value{message.Int(1), message.Int(3), message.Int(4)}},
	}, s.Records())

	_, err = vectorFlags{command: "SetRadius"}.build([]string{"half"})
	assert.Error(t, err)
}

func TestSetValidatesFlags(t *testing.T) {
	var stdout, stderr bytes.Buffer
	err := run([]string{"set", "-id", "7", "1"}, strings.NewReader(""), &stdout, &stderr)
	assert.ErrorContains(t, err, "-command")

	err = run([]string{"set", "-command", "SetCenter", "1"}, strings.NewReader(""), &stdout, &stderr)
	assert.ErrorContains(t, err, "-id")
}

func TestSetToUnreachableRole(t *testing.T) {
	var stdout, stderr bytes.Buffer
	err := run([]string{"set", "-to", "DataServer", "-id", "7", "-command", "SetCenter", "1", "2", "3"},
		strings.NewReader(""), &stdout, &stderr)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DataServer")
}
