package configure

/*
	각 스트림은 고유한 정책 값 집합을 가진다. 값은 로컬 캐시에 보관하며,
	redis 가 설정되면 여러 인스턴스가 같은 정책을 공유한다.
	프레임 처리 경로는 로컬 캐시만 읽는다. redis 와의 동기화는 Refresh 와 Set* 에서만 일어난다.
*/
import (
	"fmt"
	"strconv"
	"strings"

	"github.com/gwuhaolin/playout/av"
	"github.com/gwuhaolin/playout/utils/rational"

	"github.com/go-redis/redis/v7"
	"github.com/patrickmn/go-cache"
	log "github.com/sirupsen/logrus"
)

const (
	speedKey    = "speed"
	intervalKey = "interval"
)

type speedValue struct {
	speed     rational.Rational
	direction av.Direction
}

type intervalValue struct {
	start, end int64
}

// PolicyStore 는 av.PolicyStore 구현이다.
type PolicyStore struct {
	key        string        // 스트림 키
	redisCli   *redis.Client // 공유 저장소, nil 이면 로컬 전용
	localCache *cache.Cache  // 프레임 경로에서 읽는 스냅샷
}

// NewRedisClient connects to the shared policy store.
func NewRedisClient(addr, pwd string) (*redis.Client, error) {
	cli := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: pwd,
		DB:       0,
	})
	if _, err := cli.Ping().Result(); err != nil {
		return nil, fmt.Errorf("redis: %w", err)
	}
	log.Info("Redis connected")
	return cli, nil
}

// NewPolicyStore creates the policy store of one stream. redisCli may be nil.
func NewPolicyStore(key string, redisCli *redis.Client) *PolicyStore {
	p := &PolicyStore{
		key:        key,
		redisCli:   redisCli,
		localCache: cache.New(cache.NoExpiration, 0),
	}
	p.localCache.SetDefault(speedKey, speedValue{speed: rational.One, direction: av.Forward})
	p.localCache.SetDefault(intervalKey, intervalValue{start: av.InvalidTime, end: av.InvalidTime})
	return p
}

func (p *PolicyStore) redisKey(name string) string {
	return "playout:" + p.key + ":" + name
}

// ApplyConfig seeds the store with the policies selected by configuration.
func (p *PolicyStore) ApplyConfig(c PlayerCfg) error {
	late, err := av.ParseDiscardLateFrames(c.LateFrameDisposal)
	if err != nil {
		return err
	}
	master, err := av.ParseMasterClock(c.MasterClock)
	if err != nil {
		return err
	}
	values := map[string]int{
		av.PolicyAVDSynchronization:     boolPolicy(c.AVDSync),
		av.PolicyLivePlayback:           boolPolicy(c.LivePlayback),
		av.PolicyPacketInjectorPlayback: boolPolicy(c.PacketInjector),
		av.PolicyDiscardLateFrames:      late,
		av.PolicyMasterClock:            master,
		av.PolicyTrickModeDomain:        c.TrickModeDomain,
	}
	for _, name := range av.PolicyNames {
		v, ok := values[name]
		if !ok {
			continue
		}
		if err := p.SetPolicy(name, v); err != nil {
			return err
		}
	}
	speed, err := ParseSpeed(c.SimSpeed)
	if err != nil {
		return err
	}
	dir := av.Forward
	if c.SimReverse {
		dir = av.Backward
	}
	return p.SetSpeed(speed, dir)
}

func boolPolicy(b bool) int {
	if b {
		return av.PolicyValueApply
	}
	return av.PolicyValueDisapply
}

// Policy returns the named value, 0 when unset.
func (p *PolicyStore) Policy(name string) int {
	if v, found := p.localCache.Get(name); found {
		if i, ok := v.(int); ok {
			return i
		}
	}
	return 0
}

// SetPolicy stores a policy value locally and, when configured, in redis.
func (p *PolicyStore) SetPolicy(name string, value int) error {
	p.localCache.SetDefault(name, value)
	if p.redisCli == nil {
		return nil
	}
	return p.redisCli.Set(p.redisKey(name), value, 0).Err()
}

func (p *PolicyStore) Speed() (rational.Rational, av.Direction) {
	if v, found := p.localCache.Get(speedKey); found {
		s := v.(speedValue)
		return s.speed, s.direction
	}
	return rational.One, av.Forward
}

// SetSpeed changes the playback speed and direction.
func (p *PolicyStore) SetSpeed(speed rational.Rational, dir av.Direction) error {
	if speed.Sign() < 0 {
		return fmt.Errorf("negative speed %s, use the backward direction", speed)
	}
	p.localCache.SetDefault(speedKey, speedValue{speed: speed, direction: dir})
	if p.redisCli == nil {
		return nil
	}
	encoded := fmt.Sprintf("%d/%d/%d", speed.Num(), speed.Den(), int(dir))
	return p.redisCli.Set(p.redisKey(speedKey), encoded, 0).Err()
}

func (p *PolicyStore) PresentationInterval() (start, end int64) {
	if v, found := p.localCache.Get(intervalKey); found {
		i := v.(intervalValue)
		return i.start, i.end
	}
	return av.InvalidTime, av.InvalidTime
}

// SetPresentationInterval restricts presentation to [start, end). av.InvalidTime leaves a side open.
func (p *PolicyStore) SetPresentationInterval(start, end int64) error {
	p.localCache.SetDefault(intervalKey, intervalValue{start: start, end: end})
	if p.redisCli == nil {
		return nil
	}
	return p.redisCli.Set(p.redisKey(intervalKey), fmt.Sprintf("%d/%d", start, end), 0).Err()
}

// Refresh pulls every shared value from redis into the local snapshot.
func (p *PolicyStore) Refresh() error {
	if p.redisCli == nil {
		return nil
	}
	for _, name := range av.PolicyNames {
		s, err := p.redisCli.Get(p.redisKey(name)).Result()
		if err == redis.Nil {
			continue
		} else if err != nil {
			return err
		}
		v, err := strconv.Atoi(s)
		if err != nil {
			return fmt.Errorf("policy %s: %w", name, err)
		}
		p.localCache.SetDefault(name, v)
	}

	if s, err := p.redisCli.Get(p.redisKey(speedKey)).Result(); err == nil {
		sv, err := decodeSpeed(s)
		if err != nil {
			return err
		}
		p.localCache.SetDefault(speedKey, sv)
	} else if err != redis.Nil {
		return err
	}

	if s, err := p.redisCli.Get(p.redisKey(intervalKey)).Result(); err == nil {
		var iv intervalValue
		if _, err := fmt.Sscanf(s, "%d/%d", &iv.start, &iv.end); err != nil {
			return fmt.Errorf("interval %q: %w", s, err)
		}
		p.localCache.SetDefault(intervalKey, iv)
	} else if err != redis.Nil {
		return err
	}
	log.Debugf("[POLICY] refreshed %s from redis", p.key)
	return nil
}

func decodeSpeed(s string) (speedValue, error) {
	var num, den int64
	var dir int
	if _, err := fmt.Sscanf(s, "%d/%d/%d", &num, &den, &dir); err != nil || den == 0 {
		return speedValue{}, fmt.Errorf("speed %q is malformed", s)
	}
	return speedValue{speed: rational.New(num, den), direction: av.Direction(dir)}, nil
}

// ParseSpeed parses "8", "1/2" or "3/2" into a non-negative rational speed.
func ParseSpeed(s string) (rational.Rational, error) {
	parts := strings.SplitN(strings.TrimSpace(s), "/", 2)
	num, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return rational.Zero, fmt.Errorf("speed %q: %w", s, err)
	}
	den := int64(1)
	if len(parts) == 2 {
		if den, err = strconv.ParseInt(parts[1], 10, 64); err != nil {
			return rational.Zero, fmt.Errorf("speed %q: %w", s, err)
		}
	}
	if den <= 0 || num < 0 {
		return rational.Zero, fmt.Errorf("speed %q is out of range", s)
	}
	return rational.New(num, den), nil
}
