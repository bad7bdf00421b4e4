package indicator

// OBV is On-Balance Volume. The first sample initializes it to its own volume.
type OBV struct {
	seen      bool
	prevClose float64
	current   float64
}

func NewOBV() *OBV { return &OBV{} }

func (o *OBV) Name() string  { return "OBV" }
func (o *OBV) Lookback() int { return 1 }

func (o *OBV) Update(x Sample) {
	switch {
	case !o.seen:
		o.current = x.Volume
		o.seen = true
	case x.Close > o.prevClose:
		o.current += x.Volume
	case x.Close < o.prevClose:
		o.current -= x.Volume
	}
	o.prevClose = x.Close
}

func (o *OBV) Value() (float64, bool) { return o.current, o.seen }
func (o *OBV) Ready() bool            { return o.seen }
