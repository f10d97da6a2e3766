package mixerpkg

import "encoding/xml"

// MIMEType is the Content-Type every CONTROL body addressed to this package
// must carry (§6).
const MIMEType = "application/msc-mixer+xml"

const PackageName = "msc-mixer"
const PackageVersion = "1.0"

// mscmixer is the root element wrapping every operation (§4.7).
type mscmixer struct {
	XMLName           xml.Name           `xml:"mscmixer"`
	CreateConference   *createConference  `xml:"createconference"`
	ModifyConference   *modifyConference  `xml:"modifyconference"`
	DestroyConference   *destroyConference `xml:"destroyconference"`
	Join               *joinOp            `xml:"join"`
	ModifyJoin         *joinOp            `xml:"modifyjoin"`
	Unjoin             *unjoinOp          `xml:"unjoin"`
	Audit              *auditOp           `xml:"audit"`
}

type audioMixing struct {
	Type string `xml:"type,attr"` // "nbest" | "controller"
	N    int    `xml:"n,attr"`
}

type createConference struct {
	ID                string       `xml:"id,attr"`
	ReservedTalkers   int          `xml:"reservedtalkers,attr"`
	ReservedListeners int          `xml:"reservedlisteners,attr"`
	AudioMixing       *audioMixing `xml:"audio-mixing"`
}

type modifyConference struct {
	ID string `xml:"id,attr"`
}

type destroyConference struct {
	ID string `xml:"id,attr"`
}

type volume struct {
	ControlType string `xml:"controltype,attr"` // setgain | mute | unmute
	Value       int    `xml:"value,attr"`        // dB, e.g. -3
}

type clamp struct {
	Tones string `xml:"tones,attr"`
}

type stream struct {
	Media     string  `xml:"media,attr"`
	Label     string  `xml:"label,attr"`
	Direction string  `xml:"direction,attr"`
	Volume    *volume `xml:"volume"`
	Clamp     *clamp  `xml:"clamp"`
}

type joinOp struct {
	ID1     string   `xml:"id1,attr"`
	ID2     string   `xml:"id2,attr"`
	Streams []stream `xml:"stream"`
}

type unjoinOp struct {
	ID1 string `xml:"id1,attr"`
	ID2 string `xml:"id2,attr"`
}

type auditOp struct {
	ConferenceID string `xml:"conferenceid,attr"`
}

// response is the <response> element carrying the rich status code and
// human-readable reason inside a 200-wrapped REPORT body (§7 item 4).
type response struct {
	XMLName xml.Name `xml:"mscmixer"`
	Code    int      `xml:"response>code,attr"`
	Reason  string   `xml:"response>reason,attr,omitempty"`
	Body    []byte   `xml:",innerxml"`
}

// Event wraps conferenceexit / unjoin-notify / active-talkers-notify
// asynchronous notifications (§4.7).
type Event struct {
	XMLName xml.Name `xml:"mscmixer"`
	Inner   string   `xml:",innerxml"`
}

func parseControlBody(body []byte) (*mscmixer, error) {
	var m mscmixer
	if err := xml.Unmarshal(body, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

func directionFromStr(s string) Direction {
	switch s {
	case "sendonly":
		return DirSendOnly
	case "recvonly":
		return DirRecvOnly
	case "inactive":
		return DirInactive
	default:
		return DirSendRecv
	}
}

func gainFromVolume(v *volume) int {
	if v == nil {
		return 100
	}
	switch v.ControlType {
	case "mute":
		return 0
	case "unmute":
		return 100
	case "setgain":
		// Approximate dB-to-percent conversion used throughout this package:
		// every -3dB halves perceived gain, matching scenario 3 in §8
		// (-3dB => 50%).
		pct := 100
		db := v.Value
		for db <= -3 {
			pct /= 2
			db += 3
		}
		for db >= 3 {
			pct *= 2
			db -= 3
		}
		return pct
	default:
		return 100
	}
}
