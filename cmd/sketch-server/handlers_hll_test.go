package main

import (
	"fmt"
	"strings"
	"testing"
)

func TestHLLCommands(t *testing.T) {
	app := newTestApp(t)
	addr := startTestServer(t, app)
	client := dialTestClient(t, addr)

	t.Run("add and count", func(t *testing.T) {
		if got := client.send("HLL.ADD users alice bob carol"); got != ":1\r\n" {
			t.Errorf("ADD got %q, want :1", got)
		}
		if got := client.send("HLL.ADD users alice"); got != ":0\r\n" {
			t.Errorf("duplicate ADD got %q, want :0", got)
		}
		if got := client.send("HLL.COUNT users"); got != ":3\r\n" {
			t.Errorf("COUNT got %q, want :3", got)
		}
		if got := client.send("TYPE users"); got != "+hyperloglog\r\n" {
			t.Errorf("TYPE got %q", got)
		}
	})

	t.Run("interval", func(t *testing.T) {
		// 3 +- 3 * 1.04/sqrt(16384)
		want := intArray(2, 4)
		if got := client.send("HLL.INTERVAL users"); got != want {
			t.Errorf("got %q, want %q", got, want)
		}
	})

	t.Run("larger stream", func(t *testing.T) {
		var b strings.Builder
		b.WriteString("HLL.ADD big")
		for i := range 1000 {
			fmt.Fprintf(&b, " item-%d", i)
		}
		client.send(b.String())

		got := client.send("HLL.COUNT big")
		var n int
		if _, err := fmt.Sscanf(got, ":%d\r\n", &n); err != nil {
			t.Fatalf("COUNT got %q: %v", got, err)
		}
		if n < 970 || n > 1030 {
			t.Errorf("COUNT = %d, want ~1000", n)
		}
	})

	t.Run("init", func(t *testing.T) {
		if got := client.send("HLL.INIT coarse 0.1"); got != "+OK\r\n" {
			t.Fatalf("got %q", got)
		}
		if got := client.send("HLL.COUNT coarse"); got != ":0\r\n" {
			t.Errorf("COUNT got %q", got)
		}
		if got := client.send("HLL.INIT coarse 0.1"); got != "-ERR key already exists\r\n" {
			t.Errorf("got %q", got)
		}
		if got := client.send("HLL.INIT bad 0"); got != "-ERR invalid accuracy (must be in (0, 1])\r\n" {
			t.Errorf("got %q", got)
		}
		if got := client.send("HLL.INIT bad 0.00001"); got != "-ERR accuracy too small\r\n" {
			t.Errorf("got %q", got)
		}
	})

	t.Run("merge", func(t *testing.T) {
		client.send("HLL.ADD a x y")
		client.send("HLL.ADD b y z")

		if got := client.send("HLL.MERGE union a b"); got != "+OK\r\n" {
			t.Fatalf("MERGE got %q", got)
		}
		if got := client.send("HLL.COUNT union"); got != ":3\r\n" {
			t.Errorf("COUNT got %q, want :3", got)
		}
		if got := client.send("HLL.COUNT a"); got != ":2\r\n" {
			t.Errorf("source changed by merge, COUNT got %q", got)
		}
	})

	t.Run("merge incompatible precision", func(t *testing.T) {
		want := "-ERR sketches have incompatible dimensions\r\n"
		if got := client.send("HLL.MERGE a coarse"); got != want {
			t.Errorf("got %q, want %q", got, want)
		}
		if got := client.send("HLL.MERGE fresh a coarse"); got != want {
			t.Errorf("got %q, want %q", got, want)
		}
	})

	t.Run("errors", func(t *testing.T) {
		if got := client.send("HLL.COUNT nosuch"); got != "-ERR no such key\r\n" {
			t.Errorf("got %q", got)
		}
		if got := client.send("HLL.ADD users"); got != "-ERR wrong number of arguments for 'HLL.ADD' command\r\n" {
			t.Errorf("got %q", got)
		}
		client.send("CMS.INIT counts 10 2")
		want := "-WRONGTYPE Operation against a key holding the wrong kind of value\r\n"
		if got := client.send("HLL.ADD counts a"); got != want {
			t.Errorf("got %q", got)
		}
	})
}
