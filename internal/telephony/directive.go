package telephony

import (
	"bytes"
	"encoding/xml"
	"errors"
	"strings"
)

// Directive is the signaling instruction returned to the provider from a
// webhook response. It intentionally avoids any provider SDK dependency;
// only the primitives needed at this boundary are modeled.

type Directive struct {
	Action DirectiveAction

	// ConnectTo is used when Action == connect: either a client identity
	// ("client:agent-7") or a PSTN number.
	ConnectTo string

	// Pause inserts a short wait before hanging up; used for voicemail
	// drop flows where the provider records after the beep.
	PauseSeconds int
}

type DirectiveAction string

const (
	DirectiveAccept  DirectiveAction = "accept"
	DirectiveConnect DirectiveAction = "connect"
	DirectiveHangup  DirectiveAction = "hangup"
)

type xmlResponse struct {
	XMLName xml.Name `xml:"Response"`
	Verbs   []any    `xml:",any"`
}

type xmlHangup struct {
	XMLName xml.Name `xml:"Hangup"`
}

type xmlPause struct {
	XMLName xml.Name `xml:"Pause"`
	Length  int      `xml:"length,attr"`
}

type xmlDial struct {
	XMLName xml.Name   `xml:"Dial"`
	Number  string     `xml:"Number,omitempty"`
	Client  *xmlClient `xml:"Client,omitempty"`
}

type xmlClient struct {
	Identity string `xml:",chardata"`
}

// Render maps a Directive to the provider's XML response language.
// DirectiveAccept renders an empty response: the provider proceeds with the
// call as dispatched.
func Render(d Directive) (string, error) {
	var r xmlResponse

	switch d.Action {
	case DirectiveAccept:
		// empty <Response/>
	case DirectiveHangup:
		if d.PauseSeconds > 0 {
			r.Verbs = append(r.Verbs, xmlPause{Length: d.PauseSeconds})
		}
		r.Verbs = append(r.Verbs, xmlHangup{})
	case DirectiveConnect:
		target := strings.TrimSpace(d.ConnectTo)
		if target == "" {
			return "", errors.New("telephony: connect_to required for connect directive")
		}
		dial := xmlDial{}
		if id, ok := strings.CutPrefix(strings.ToLower(target), "client:"); ok {
			dial.Client = &xmlClient{Identity: strings.TrimSpace(id)}
		} else {
			dial.Number = target
		}
		r.Verbs = append(r.Verbs, dial)
	default:
		return "", errors.New("telephony: unknown directive action")
	}

	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.Encode(r); err != nil {
		return "", err
	}
	if err := enc.Flush(); err != nil {
		return "", err
	}
	return buf.String(), nil
}
