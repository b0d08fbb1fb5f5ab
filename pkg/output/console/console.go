package console

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/ericogr/airsense-mqtt/pkg/output"
)

type ConsoleOutput struct {
	w   io.Writer
	now func() time.Time
}

func NewConsole() output.Output { return &ConsoleOutput{w: os.Stdout, now: time.Now} }

func (c *ConsoleOutput) Publish(topic string, payload []byte) error {
	_, err := fmt.Fprintf(c.w, "%s %s %s\n", c.now().Format(time.RFC3339), topic, payload)
	return err
}

func (c *ConsoleOutput) Close() error { return nil }
