package main

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bytedance/gopkg/util/gopool"
	"github.com/urfave/cli/v2"
)

func benchCommand() *cli.Command {
	return &cli.Command{
		Name:  "bench",
		Usage: "flood a server with echo round trips and report throughput",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "addr",
				Aliases: []string{"a"},
				Value:   "127.0.0.1:8080",
				Usage:   "server address",
				EnvVars: []string{"AEVENT_ADDR"},
			},
			&cli.IntFlag{
				Name:    "conns",
				Aliases: []string{"n"},
				Value:   16,
				Usage:   "concurrent connections",
			},
			&cli.IntFlag{
				Name:    "requests",
				Aliases: []string{"r"},
				Value:   1000,
				Usage:   "round trips per connection",
			},
			&cli.IntFlag{
				Name:  "size",
				Value: 64,
				Usage: "payload bytes per round trip",
			},
		},
		Action: runBench,
	}
}

func runBench(c *cli.Context) error {
	addr := c.String("addr")
	conns := c.Int("conns")
	requests := c.Int("requests")
	size := c.Int("size")

	payload := make([]byte, size)
	for i := range payload {
		payload[i] = byte('a' + i%26)
	}

	pool := gopool.NewPool("aevent-bench", int32(conns), gopool.NewConfig())

	var (
		wg       sync.WaitGroup
		ok, fail int64
	)
	start := time.Now()
	for i := 0; i < conns; i++ {
		wg.Add(1)
		pool.Go(func() {
			defer wg.Done()
			if err := benchConn(addr, payload, requests); err != nil {
				atomic.AddInt64(&fail, 1)
				return
			}
			atomic.AddInt64(&ok, 1)
		})
	}
	wg.Wait()
	elapsed := time.Since(start)

	total := int64(conns) * int64(requests)
	fmt.Printf("conns=%d ok=%d failed=%d\n", conns, ok, fail)
	fmt.Printf("%d round trips of %dB in %v (%.0f rt/s)\n",
		total, size, elapsed.Round(time.Millisecond),
		float64(total)/elapsed.Seconds())
	return nil
}

func benchConn(addr string, payload []byte, requests int) error {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return err
	}
	defer conn.Close()

	buf := make([]byte, len(payload))
	for i := 0; i < requests; i++ {
		if _, err := conn.Write(payload); err != nil {
			return err
		}
		for read := 0; read < len(buf); {
			n, err := conn.Read(buf[read:])
			if err != nil {
				return err
			}
			read += n
		}
	}
	return nil
}
