package ivrpkg

import "encoding/xml"

// MIMEType is the Content-Type every CONTROL body addressed to this package
// must carry (§6).
const MIMEType = "application/msc-ivr+xml"

const PackageName = "msc-ivr"
const PackageVersion = "1.0"

// msivr is the root element wrapping every operation (§4.8).
type msivr struct {
	XMLName          xml.Name          `xml:"mscivr"`
	DialogPrepare    *dialogPrepare    `xml:"dialogprepare"`
	DialogStart      *dialogStart      `xml:"dialogstart"`
	DialogTerminate  *dialogTerminate  `xml:"dialogterminate"`
	Audit            *auditOp          `xml:"audit"`
}

type dialogPrepare struct {
	ID     string  `xml:"id,attr"`
	Dialog *dialog `xml:"dialog"`
}

type dialogStart struct {
	ID             string `xml:"id,attr"`
	PreparedID     string `xml:"preparedid,attr"`
	ConnectionID   string `xml:"connectionid,attr"`
	ConferenceID   string `xml:"conferenceid,attr"`
	Dialog         *dialog `xml:"dialog"`
}

type dialogTerminate struct {
	ID        string `xml:"id,attr"`
	Immediate bool   `xml:"immediate,attr"`
}

type auditOp struct {
	DialogID string `xml:"dialogid,attr"`
}

// dialog is the <dialog> element: at most one each of prompt/collect/
// control/record (§4.8).
type dialog struct {
	MaxDuration int         `xml:"maxduration,attr"`
	Prompt      *promptElem `xml:"prompt"`
	Collect     *collectElem `xml:"collect"`
	Control     *controlElem `xml:"control"`
	Record      *recordElem `xml:"record"`
	Subscribe   *subscribeElem `xml:"subscribe"`
}

type promptElem struct {
	Bargein bool      `xml:"bargein,attr"`
	XMLBase string    `xml:"base,attr"`
	Par     []parElem `xml:"par"`
	Seq     []seqElem `xml:"seq"`
	Media   []mediaElem `xml:"media"`
}

type parElem struct {
	EndSync string      `xml:"endsync,attr"` // "first" | "last"
	Media   []mediaElem `xml:"media"`
	Seq     []seqElem   `xml:"seq"`
}

type seqElem struct {
	Media []mediaElem `xml:"media"`
	Var   []variableElem `xml:"variable"`
	DTMF  []dtmfElem  `xml:"dtmf"`
}

type mediaElem struct {
	Loc        string `xml:"loc,attr"`
	ClipBegin  int    `xml:"clipBegin,attr"`
	ClipEnd    int    `xml:"clipEnd,attr"`
	SoundLevel int    `xml:"soundLevel,attr"`
}

type variableElem struct {
	Type   string `xml:"type,attr"`
	Format string `xml:"format,attr"`
	Value  string `xml:"value,attr"`
}

// dtmfElem marks synthesized DTMF inside a prompt timeline. Always rejected
// at compile time (§4.8, §9 open question): this type exists so the parser
// can detect its presence, not so it can be played.
type dtmfElem struct {
	Digits string `xml:"digits,attr"`
}

type collectElem struct {
	Timeout           int    `xml:"timeout,attr"`
	InterDigitTimeout int    `xml:"interdigittimeout,attr"`
	TermTimeout       int    `xml:"termtimeout,attr"`
	MaxDigits         int    `xml:"maxdigits,attr"`
	EscapeKey         string `xml:"escapekey,attr"`
	TermChar          string `xml:"termchar,attr"`
	ClearDigitBuffer  bool   `xml:"cleardigitbuffer,attr"`
	Grammar           *grammarElem `xml:"grammar"`
}

type controlElem struct {
	StartKey   string `xml:"startkey,attr"`
	StopKey    string `xml:"stopkey,attr"`
	PauseKey   string `xml:"pausekey,attr"`
	ResumeKey  string `xml:"resumekey,attr"`
	FFKey      string `xml:"ffkey,attr"`
	RWKey      string `xml:"rwkey,attr"`
	VolUpKey   string `xml:"volupkey,attr"`
	VolDnKey   string `xml:"voldnkey,attr"`
	SpeedUpKey string `xml:"speedupkey,attr"`
	SpeedDnKey string `xml:"speeddnkey,attr"`
}

type recordElem struct {
	Timeout      int  `xml:"timeout,attr"`
	MaxTime      int  `xml:"maxtime,attr"`
	FinalSilence int  `xml:"finalsilence,attr"`
	VADInitial   bool `xml:"vadinitial,attr"`
	VADFinal     bool `xml:"vadfinal,attr"`
	DTMFTerm     bool `xml:"dtmfterm,attr"`
	Beep         bool `xml:"beep,attr"`
	Append       bool `xml:"append,attr"`
	Dest         string `xml:"dest,attr"`
}

type subscribeElem struct {
	DTMFSub *dtmfSubElem `xml:"dtmfsub"`
}

type dtmfSubElem struct {
	MatchMode string `xml:"matchmode,attr"` // all | collect | control
}

// SRGS DTMF-subset grammar (mode="dtmf" only, §4.8).
type grammarElem struct {
	Mode  string   `xml:"mode,attr"`
	Rules []ruleElem `xml:"rule"`
	Root  string   `xml:"root,attr"`
}

type ruleElem struct {
	ID    string     `xml:"id,attr"`
	OneOf []oneOfElem `xml:"one-of"`
	Items []itemElem `xml:"item"`
}

type oneOfElem struct {
	Items []itemElem `xml:"item"`
}

type itemElem struct {
	Repeat     string  `xml:"repeat,attr"`     // "m-n" or "n"
	RepeatProb float64 `xml:"repeat-prob,attr"`
	Weight     float64 `xml:"weight,attr"`
	Text       string  `xml:",chardata"`
	RuleRef    *ruleRefElem `xml:"ruleref"`
	OneOf      *oneOfElem   `xml:"one-of"`
}

type ruleRefElem struct {
	URI string `xml:"uri,attr"`
}

// response is the <response> element carrying the rich status code and
// human-readable reason inside a 200-wrapped REPORT body (§7 item 4).
type response struct {
	XMLName xml.Name `xml:"mscivr"`
	Code    int      `xml:"response>code,attr"`
	Reason  string   `xml:"response>reason,attr,omitempty"`
}

func parseControlBody(body []byte) (*msivr, error) {
	var m msivr
	if err := xml.Unmarshal(body, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// containsDTMFSynthesis reports whether any <dtmf> element appears inside a
// <seq> of the prompt, directly or within a <par>. A <dtmf> placed directly
// under <prompt> or <par> has no field in these types, is dropped by the XML
// decoder, and is not detected.
func containsDTMFSynthesis(p *promptElem) bool {
	if p == nil {
		return false
	}
	for _, s := range p.Seq {
		if len(s.DTMF) > 0 {
			return true
		}
	}
	for _, par := range p.Par {
		for _, s := range par.Seq {
			if len(s.DTMF) > 0 {
				return true
			}
		}
	}
	return false
}
