package main

import (
	"fmt"
	"strings"
	"testing"
)

func TestMinHashCommands(t *testing.T) {
	app := newTestApp(t)
	addr := startTestServer(t, app)
	client := dialTestClient(t, addr)

	t.Run("init", func(t *testing.T) {
		if got := client.send("MINHASH.INIT sim 0.1"); got != "+OK\r\n" {
			t.Fatalf("got %q", got)
		}
		if got := client.send("TYPE sim"); got != "+minhash\r\n" {
			t.Errorf("TYPE got %q", got)
		}
		if got := client.send("MINHASH.SIMILARITY sim"); got != "$1\r\n0\r\n" {
			t.Errorf("empty sketch got %q, want 0", got)
		}
		if got := client.send("MINHASH.INIT sim 0.1"); got != "-ERR key already exists\r\n" {
			t.Errorf("got %q", got)
		}
	})

	t.Run("identical streams", func(t *testing.T) {
		if got := client.send("MINHASH.ADD sim x x y y z z"); got != "+OK\r\n" {
			t.Fatalf("got %q", got)
		}
		if got := client.send("MINHASH.SIMILARITY sim"); got != "$1\r\n1\r\n" {
			t.Errorf("got %q, want 1", got)
		}
	})

	t.Run("disjoint streams", func(t *testing.T) {
		client.send("MINHASH.INIT apart 0.1")

		var b strings.Builder
		b.WriteString("MINHASH.ADD apart")
		for i := range 20 {
			fmt.Fprintf(&b, " left-%d right-%d", i, i)
		}
		client.send(b.String())

		if got := client.send("MINHASH.SIMILARITY apart"); got != "$1\r\n0\r\n" {
			t.Errorf("got %q, want 0", got)
		}
	})

	t.Run("errors", func(t *testing.T) {
		if got := client.send("MINHASH.INIT bad 0"); got != "-ERR invalid accuracy (must be in (0, 1])\r\n" {
			t.Errorf("got %q", got)
		}
		if got := client.send("MINHASH.INIT bad 0.0001"); got != "-ERR accuracy too small\r\n" {
			t.Errorf("got %q", got)
		}
		if got := client.send("MINHASH.ADD sim a"); got != "-ERR wrong number of arguments for 'MINHASH.ADD' command\r\n" {
			t.Errorf("got %q", got)
		}
		if got := client.send("MINHASH.ADD nosuch a b"); got != "-ERR no such key\r\n" {
			t.Errorf("got %q", got)
		}
		client.send("HLL.ADD h a")
		want := "-WRONGTYPE Operation against a key holding the wrong kind of value\r\n"
		if got := client.send("MINHASH.SIMILARITY h"); got != want {
			t.Errorf("got %q", got)
		}
	})
}
