// Command madara-node is a two-node demo wiring kb.KB, a loopback
// Transport, and a small KaRL program: it mirrors a sensor node pushing
// a reading to a monitor node over the send/receive filter chain.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/ssabatier/madara/kernel/filter"
	"github.com/ssabatier/madara/kernel/kb"
	"github.com/ssabatier/madara/kernel/knowledgecontext"
	"github.com/ssabatier/madara/kernel/transport"
	"github.com/ssabatier/madara/kernel/utils"
)

func main() {
	fmt.Println("madara node starting...")
	ctx := context.Background()

	logger := utils.NewLogger(utils.LoggerConfig{
		Level:     utils.INFO,
		Component: "madara",
		Colorize:  true,
	})

	mesh := transport.NewLoopbackMesh("sensor", "monitor")

	sensor := kb.New("sensor",
		kb.WithTransport(mesh["sensor"]),
		kb.WithLogger(logger),
	)
	defer sensor.Close()

	monitor := kb.New("monitor",
		kb.WithTransport(mesh["monitor"]),
		kb.WithFilterChain(filter.New(filter.DefaultQoSSettings(), nil)),
		kb.WithLogger(logger),
	)
	defer monitor.Close()

	// The sensor computes a reading with a KaRL expression and pushes
	// the modified variables out over the mesh.
	if _, err := sensor.Evaluate("sensor.temp_c = 21.5; sensor.alert = sensor.temp_c > 40", knowledgecontext.DefaultEvalSettings()); err != nil {
		fmt.Println("sensor evaluate failed:", err)
		os.Exit(1)
	}

	sent, err := sensor.Send(ctx)
	if err != nil {
		fmt.Println("sensor send failed:", err)
		os.Exit(1)
	}
	logger.Info("sent records from sensor", utils.Int("count", sent))

	deadline := time.Now().Add(time.Second)
	for monitor.Get("sensor.temp_c").IsUncreated() && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	temp := monitor.Get("sensor.temp_c")
	alert := monitor.Get("sensor.alert")
	fmt.Printf("monitor received: sensor.temp_c=%s sensor.alert=%s\n", temp.ToString(), alert.ToString())

	path := os.TempDir() + "/madara-demo.ckpt"
	written := monitor.SaveContext(path, nil)
	if written < 0 {
		fmt.Println("checkpoint write failed")
		os.Exit(1)
	}
	fmt.Printf("checkpoint written to %s (%d bytes)\n", path, written)
}
