package math

// T0Split is the first milestone release of an escrowed price.
type T0Split struct {
	TotalFee int64
	Base     int64
	Fee      int64
	Creator  int64
}

// T1Split is the final milestone release.
type T1Split struct {
	Base     int64
	Release  int64
	Withhold int64
	Fee      int64
	Creator  int64
}

// TotalOut is everything T1 moves out of escrow.
func (s T1Split) TotalOut() (int64, error) {
	out, err := CheckedAdd(s.Creator, s.Fee)
	if err != nil {
		return 0, err
	}
	return CheckedAdd(out, s.Withhold)
}

// SplitT0 computes the T0 release of price at t0Bps with fee at feeBps.
func SplitT0(price, feeBps, t0Bps int64) (T0Split, error) {
	var s T0Split
	var err error

	if s.TotalFee, err = MulBps(price, feeBps); err != nil {
		return s, err
	}
	if s.Base, err = MulBps(price, t0Bps); err != nil {
		return s, err
	}
	if s.Fee, err = MulBps(s.TotalFee, t0Bps); err != nil {
		return s, err
	}
	if s.Creator, err = CheckedSub(s.Base, s.Fee); err != nil {
		return s, err
	}
	return s, nil
}

// SplitT1 computes the final release of the part of price left after t0Base.
func SplitT1(price, t0Base, feeBps int64) (T1Split, error) {
	var s T1Split
	var err error

	if s.Base, err = CheckedSub(price, t0Base); err != nil {
		return s, err
	}
	if s.Release, err = MulBps(s.Base, FinalReleaseBps); err != nil {
		return s, err
	}
	if s.Withhold, err = CheckedSub(s.Base, s.Release); err != nil {
		return s, err
	}
	if s.Fee, err = MulBps(s.Base, feeBps); err != nil {
		return s, err
	}
	if s.Creator, err = CheckedSub(s.Release, s.Fee); err != nil {
		return s, err
	}
	return s, nil
}
