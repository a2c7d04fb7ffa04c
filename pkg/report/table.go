package report

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/calyptra/mqttcap/pkg/capture"
)

// undefinedRate is rendered when the capture window was too short to
// derive per-second rates.
const undefinedRate = "n/a"

// RenderStats formats the session statistics as a key-value table.
func RenderStats(topicCount int, stats capture.Stats, elapsed time.Duration) string {
	mps, tps, throughput := undefinedRate, undefinedRate, undefinedRate
	if tp, err := stats.Derive(elapsed); err == nil {
		mps = fmt.Sprintf("%d", tp.MessagesPerSecond)
		tps = fmt.Sprintf("%d", tp.TagsPerSecond)
		throughput = humanize.Bytes(uint64(tp.BytesPerSecond)) + "/s"
	}

	t := table.NewWriter()
	t.SetStyle(table.StyleLight)
	t.AppendRows([]table.Row{
		{"Subscribed Topics", topicCount},
		{"Total MQTT Messages", stats.MessageCount},
		{"Total Tags", stats.TotalTagCount},
		{"Total Size", humanize.Bytes(uint64(stats.TotalBytes))},
		{"Capture Duration", elapsed.Round(time.Second).String()},
		{"MQTT Messages/Second", mps},
		{"MQTT Tags/Second", tps},
		{"MQTT Throughput", throughput},
	})
	return t.Render()
}
