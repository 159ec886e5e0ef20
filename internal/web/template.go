package web

import (
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/sweeney/dial-tester/internal/dial"
	"github.com/sweeney/dial-tester/internal/status"
)

var indexTmpl = template.Must(template.New("index").Funcs(template.FuncMap{
	"uptime": func(d time.Duration) string {
		d = d.Truncate(time.Second)
		days := int(d.Hours()) / 24
		h := int(d.Hours()) % 24
		m := int(d.Minutes()) % 60
		s := int(d.Seconds()) % 60
		if days > 0 {
			return fmt.Sprintf("%dd %dh %dm %ds", days, h, m, s)
		}
		if h > 0 {
			return fmt.Sprintf("%dh %dm %ds", h, m, s)
		}
		if m > 0 {
			return fmt.Sprintf("%dm %ds", m, s)
		}
		return fmt.Sprintf("%ds", s)
	},
	"levelClass": func(l dial.Level) string {
		switch l {
		case dial.Closed:
			return "closed"
		case dial.Open:
			return "open"
		}
		return "unknown"
	},
	"ms": func(v *int64) string {
		if v == nil {
			return "n/a"
		}
		return fmt.Sprintf("%dms", *v)
	},
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Dial Tester</title>
<style>
body { font-family: monospace; max-width: 720px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
th { width: 40%; }
.closed { color: green; font-weight: bold; }
.open { color: #888; }
.unknown { color: orange; }
.warn { color: #c60; }
.fault { color: red; font-weight: bold; }
.connected { color: green; }
.disconnected { color: red; }
.live-dot { display: inline-block; width: 8px; height: 8px; border-radius: 50%; margin-left: 6px; vertical-align: middle; }
.live-dot.ok { background: green; }
.live-dot.err { background: red; }
.live-dot.pending { background: orange; }
</style>
</head>
<body>
<h1>Dial Tester{{if .Live}}<span id="live-dot" class="live-dot pending" title="connecting"></span>{{end}}</h1>

<h2>Lines</h2>
<table>
<tr><th>Pulse contact</th><td id="line-primary" class="{{levelClass .Lines.Primary}}">{{.Lines.Primary}}</td></tr>
<tr><th>Off-normal contact</th><td id="line-secondary" class="{{levelClass .Lines.Secondary}}">{{.Lines.Secondary}}</td></tr>
<tr><th>Suppress contact</th><td id="line-suppress" class="{{levelClass .Lines.Suppress}}">{{.Lines.Suppress}}</td></tr>
<tr><th>Sampling</th><td>{{if .Running}}running{{else}}stopped{{end}}</td></tr>
{{if .Advisory}}<tr><th>Advisory</th><td class="warn">{{.Advisory}}</td></tr>{{end}}
{{if .Fault}}<tr><th>Fault</th><td class="fault">{{.Fault}}</td></tr>{{end}}
</table>

<h2>Last Digit</h2>
<table id="last-cycle">
{{with .LastCycle}}
<tr><th>Digit</th><td id="cycle-digit">{{.Digit}}</td></tr>
<tr><th>Speed</th><td id="cycle-speed">{{printf "%.1f" .FrequencyHz}} Hz{{if .HasWarning "DIAL_SPEED"}} <span class="warn">out of tolerance</span>{{end}}</td></tr>
<tr><th>Closed ratio</th><td id="cycle-duty">{{.ClosedDutyPercent}}%{{if .HasWarning "PULSE_PAUSE_RATIO"}} <span class="warn">out of tolerance</span>{{end}}</td></tr>
<tr><th>Off-normal opened</th><td>{{ms .SecondaryOpenMs}}</td></tr>
<tr><th>Suppress engaged</th><td>{{ms .SuppressOnMs}}</td></tr>
<tr><th>Debounce</th><td>{{.DebounceMs}}ms</td></tr>
{{else}}
<tr><td>No digit decoded yet</td></tr>
{{end}}
</table>

<h2>Recent</h2>
<table>
<tr><th>Time</th><th>Digit</th><th>Hz</th><th>Closed %</th></tr>
{{range .Recent}}<tr><td>{{.CreatedAt.UTC.Format "15:04:05.000"}}</td><td>{{.Digit}}</td><td>{{printf "%.1f" .FrequencyHz}}</td><td>{{.ClosedDutyPercent}}</td></tr>
{{end}}</table>

<h2>Counts</h2>
<table>
<tr><th>Cycles</th><td>{{.Counts.Cycles}}</td></tr>
<tr><th>Speed warnings</th><td>{{.Counts.DialSpeed}}</td></tr>
<tr><th>Ratio warnings</th><td>{{.Counts.PulsePauseRatio}}</td></tr>
</table>

<h2>System</h2>
<table>
<tr><th>MQTT</th><td class="{{if .MQTTConnected}}connected{{else}}disconnected{{end}}">{{if .MQTTConnected}}connected{{else}}disconnected{{end}}</td></tr>
<tr><th>Broker</th><td>{{.Config.Broker}}</td></tr>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{.StartTime.UTC.Format "2006-01-02T15:04:05Z"}}</td></tr>
<tr><th>Lines</th><td>{{.Config.Driver}}{{if .Config.Device}} {{.Config.Device}}{{end}}</td></tr>
<tr><th>Host</th><td>{{.Config.Host}}</td></tr>
<tr><th>Poll</th><td>{{.Config.PollMs}}ms</td></tr>
<tr><th>Debounce</th><td>{{.Debounce}}ms</td></tr>
<tr><th>HTTP</th><td>{{.Config.HTTPAddr}}</td></tr>
</table>

<p><a href="/index.json">JSON</a> · <a href="/cycles.json">Cycles</a></p>
{{if .Live}}
<script>
(function() {
  var dot = document.getElementById("live-dot");
  var lines = {
    primary: document.getElementById("line-primary"),
    secondary: document.getElementById("line-secondary"),
    suppress: document.getElementById("line-suppress")
  };

  function setLevel(el, level) {
    el.textContent = level;
    el.className = level === "CLOSED" ? "closed" : level === "OPEN" ? "open" : "unknown";
  }

  function setDot(cls, title) {
    dot.className = "live-dot " + cls;
    dot.title = title;
  }

  function connect() {
    var proto = location.protocol === "https:" ? "wss://" : "ws://";
    var ws = new WebSocket(proto + location.host + "/live");
    ws.onopen = function() { setDot("ok", "live"); };
    ws.onclose = function() {
      setDot("err", "offline");
      setTimeout(connect, 5000);
    };
    ws.onmessage = function(ev) {
      try {
        var msg = JSON.parse(ev.data);
        if (msg.type === "signal") {
          setLevel(lines.primary, msg.data.primary);
          setLevel(lines.secondary, msg.data.secondary);
          setLevel(lines.suppress, msg.data.suppress);
        } else if (msg.type === "cycle" || msg.type === "fault") {
          location.reload();
        }
      } catch (e) {}
    };
  }
  connect();
})();
</script>
{{end}}
</body>
</html>
`

func renderHTML(w io.Writer, snap status.Snapshot, live bool) error {
	// Snapshot has Uptime() method but template needs a Duration field.
	data := struct {
		status.Snapshot
		Uptime time.Duration
		Live   bool
	}{
		Snapshot: snap,
		Uptime:   snap.Uptime(),
		Live:     live,
	}
	return indexTmpl.Execute(w, data)
}
