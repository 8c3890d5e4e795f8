package timing

import (
	"github.com/gwuhaolin/playout/av"
	"github.com/gwuhaolin/playout/utils/rational"
)

// 트릭 모드 영역의 경계는 재생 속도와 비교되는 네 개의 오름차순 분수이다.
//   N  = (경험적 최대 디코딩 fps - 여유분) / 코딩 fps       (정상 디코딩으로 낼 수 있는 최대 배속)
//   S  = N * 저품질 디코딩 속도 증가 배율
//   If = 키 프레임 비율, Rf = 참조 프레임 비율 (GOP 링에서 추정)
// 경계:
//   DegradeNonReference          = N
//   DiscardNonReference          = S
//   DecodeReferenceDegradeNonKey = S / Rf
//   DecodeKeyOnly                = S / (If + (Rf - If) / 배율)
// 재생 속도가 넘어선 가장 높은 경계의 영역을 선택한다.

const boundaryCount = 4

type trickModeInputs struct {
	speed       rational.Rational
	direction   av.Direction
	policy      int
	params      av.TrickModeParameters
	independent rational.Rational
	reference   rational.Rational
}

// trickModeState 는 groupLock 으로 보호된다.
type trickModeState struct {
	valid           bool
	inputs          trickModeInputs
	boundaries      [boundaryCount]rational.Rational
	domain          av.TrickModeDomain
	discardFraction rational.Rational // DiscardNonReference 에서 버릴 비참조 프레임 비율
	discardCredit   rational.Rational // 1 이 되면 한 프레임을 버린다.
	verifyKeyFrames int               // 참조 검증 창에 남은 키 프레임 수
}

func sameInputs(a, b trickModeInputs) bool {
	return a.speed.Equal(b.speed) &&
		a.direction == b.direction &&
		a.policy == b.policy &&
		a.params == b.params &&
		a.independent.Equal(b.independent) &&
		a.reference.Equal(b.reference)
}

// boundaries computes the four domain boundaries from the decode capability and group fractions.
func boundaries(p av.TrickModeParameters, independent, reference rational.Rational, marginFps int64) [boundaryCount]rational.Rational {
	normal := rational.One
	if p.CodedFrameRate.Sign() > 0 && p.EmpiricalMaximumDecodeFrameRate.Sign() > 0 {
		rate := p.EmpiricalMaximumDecodeFrameRate.Sub(rational.FromInt(marginFps))
		if rate.Sign() <= 0 {
			rate = p.EmpiricalMaximumDecodeFrameRate
		}
		normal = rate.Div(p.CodedFrameRate)
	}

	increase := rational.One
	if p.SubstandardDecodeSupported && p.SubstandardDecodeRateIncrease.GreaterThan(rational.One) {
		increase = p.SubstandardDecodeRateIncrease
	}
	substandard := normal.Mul(increase)

	if reference.Sign() <= 0 {
		reference = rational.One
	}
	if independent.Sign() <= 0 || independent.GreaterThan(reference) {
		independent = reference
	}

	var b [boundaryCount]rational.Rational
	b[0] = normal
	b[1] = substandard
	b[2] = substandard.Div(reference)
	b[3] = substandard.Div(independent.Add(reference.Sub(independent).Div(increase)))
	return b
}

// selectDomain returns the domain of the highest boundary exceeded by speed.
func selectDomain(speed rational.Rational, b [boundaryCount]rational.Rational) av.TrickModeDomain {
	d := av.TrickModeDecodeAll
	for i := range b {
		if speed.GreaterThan(b[i]) {
			d = av.TrickModeDomain(i + 1)
		}
	}
	return d
}

// discardFraction 은 S/speed 만큼만 디코딩하도록 비참조 프레임 중 버릴 비율이다.
func discardFraction(speed, substandard, reference rational.Rational) rational.Rational {
	if speed.Sign() <= 0 {
		return rational.Zero
	}
	nonReference := rational.One.Sub(reference)
	if nonReference.Sign() <= 0 {
		return rational.One
	}
	f := rational.One.Sub(substandard.Div(speed)).Div(nonReference)
	if f.Sign() < 0 {
		return rational.Zero
	}
	return rational.Min(f, rational.One)
}

// updateTrickMode 는 groupLock 을 잡은 상태에서 호출한다. 입력이 바뀐 경우에만 다시 계산한다.
func (t *Timer) updateTrickMode() {
	params := t.codec.TrickModeParameters()
	speed, dir := t.policies.Speed()
	in := trickModeInputs{
		speed:     speed,
		direction: dir,
		policy:    t.policy(av.PolicyTrickModeDomain),
		params:    params,
	}
	var ok bool
	if in.independent, in.reference, ok = t.group.fractions(); !ok {
		in.independent, in.reference = defaultFractions(params)
	}
	if t.trick.valid && sameInputs(t.trick.inputs, in) {
		return
	}

	b := boundaries(params, in.independent, in.reference, t.cfg.TrickModeRateMarginFps)
	domain := selectDomain(speed, b)
	if in.policy != av.PolicyValueTrickModeAuto {
		forced := av.TrickModeDomain(in.policy - 1)
		if forced >= av.TrickModeDecodeAll && forced <= av.TrickModeDiscontinuousKeyOnly {
			domain = forced
		}
	}
	if dir == av.Backward && !params.SmoothReverseSupported && domain < av.TrickModeDecodeKeyOnly {
		domain = av.TrickModeDecodeKeyOnly
	}

	previous := t.trick.domain
	t.trick.valid = true
	t.trick.inputs = in
	t.trick.boundaries = b
	t.trick.discardFraction = rational.Zero
	if domain == av.TrickModeDiscardNonReference {
		t.trick.discardFraction = discardFraction(speed, b[1], in.reference)
	}
	if domain == previous {
		return
	}

	t.trick.domain = domain
	t.trick.discardCredit = rational.Zero
	if previous >= av.TrickModeDecodeKeyOnly && domain < av.TrickModeDecodeKeyOnly {
		t.trick.verifyKeyFrames = t.cfg.ReferenceVerificationKeyFrames
	}
	t.log.Infof("trick mode domain %s -> %s at speed %s (boundaries %s %s %s %s)",
		previous, domain, speed, b[0], b[1], b[2], b[3])
	t.signal(av.EventTrickModeDomainChange, -1, int64(domain))
}

// applyTrickMode 는 groupLock 을 잡은 상태에서 호출한다. 현재 영역의 효과를 프레임에 적용한다.
func (t *Timer) applyTrickMode(fp *av.FrameParameters) DropReason {
	switch t.trick.domain {
	case av.TrickModeDegradeNonReference:
		if !fp.ReferenceFrame {
			fp.ApplySubstandardDecode = true
		}
	case av.TrickModeDiscardNonReference:
		if !fp.ReferenceFrame {
			fp.ApplySubstandardDecode = true
			t.trick.discardCredit = t.trick.discardCredit.Add(t.trick.discardFraction)
			if !t.trick.discardCredit.LessThan(rational.One) {
				t.trick.discardCredit = t.trick.discardCredit.Sub(rational.One)
				return DropTrickMode
			}
		}
	case av.TrickModeDecodeReferenceDegradeNonKey:
		if !fp.ReferenceFrame {
			return DropTrickMode
		}
		if !fp.KeyFrame {
			fp.ApplySubstandardDecode = true
		}
	case av.TrickModeDecodeKeyOnly, av.TrickModeDiscontinuousKeyOnly:
		if !fp.KeyFrame {
			return DropTrickMode
		}
	}
	return DropNone
}

// verifyReferences 는 groupLock 을 잡은 상태에서 호출한다.
// 키 프레임만 디코딩하던 영역을 벗어난 직후에는 참조 프레임이 디코더에 남아 있는지 확인한다.
func (t *Timer) verifyReferences(fp *av.FrameParameters) DropReason {
	if t.trick.verifyKeyFrames <= 0 {
		return DropNone
	}
	if fp.KeyFrame {
		t.trick.verifyKeyFrames--
		return DropNone
	}
	if len(fp.ReferenceFrameList) == 0 || t.codec.CheckReferenceFrameList(fp.ReferenceFrameList) {
		return DropNone
	}
	t.trick.discardCredit = t.trick.discardCredit.Sub(rational.One)
	return DropReferenceVerification
}

// TrickModeDomain returns the domain chosen by the last BeforeDecode. It never recomputes.
func (t *Timer) TrickModeDomain() av.TrickModeDomain {
	t.groupLock.Lock()
	defer t.groupLock.Unlock()
	return t.trick.domain
}

// DiscardFraction returns the fraction of non-reference frames discarded in DiscardNonReference.
func (t *Timer) DiscardFraction() rational.Rational {
	t.groupLock.Lock()
	defer t.groupLock.Unlock()
	return t.trick.discardFraction
}

// TrickModeBoundaries returns the four ascending domain boundaries of the last selection.
func (t *Timer) TrickModeBoundaries() [4]rational.Rational {
	t.groupLock.Lock()
	defer t.groupLock.Unlock()
	return t.trick.boundaries
}
