package configure

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/kr/pretty"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

/*
{
  "level": "info",
  "sync_threshold_us": 1000,
  "late_frame_disposal": "after_synchronize",
  "sim_speed": "8/1"
}
*/

// TimingCfg 는 출력 타이밍 엔진의 튜닝 값들이다.
// 경험적으로 정한 값(워크스루 클램프, 일시정지 주기 등)도 모두 여기서 바꿀 수 있다.
type TimingCfg struct {
	SyncThresholdUs        int64 `mapstructure:"sync_threshold_us" json:"sync_threshold_us"`                 // 동기 오차 허용 범위
	SyncStartupThresholdUs int64 `mapstructure:"sync_startup_threshold_us" json:"sync_startup_threshold_us"` // 시작 직후 클럭 레이트 추정 중의 허용 범위
	SyncStartupFrames      int   `mapstructure:"sync_startup_frames" json:"sync_startup_frames"`             // 시작 구간 프레임 수
	SyncIntegrationCount   int   `mapstructure:"sync_integration_count" json:"sync_integration_count"`       // 오차 확정까지 적분할 프레임 수
	SyncHardCeilingUs      int64 `mapstructure:"sync_hard_ceiling_us" json:"sync_hard_ceiling_us"`           // 이 값의 10배를 넘으면 재생을 비운다
	SyncResyncThresholdUs  int64 `mapstructure:"sync_resync_threshold_us" json:"sync_resync_threshold_us"`   // 보정 후에도 넘으면 재동기화
	SyncWorkthroughMin     int   `mapstructure:"sync_workthrough_min" json:"sync_workthrough_min"`
	SyncWorkthroughMax     int   `mapstructure:"sync_workthrough_max" json:"sync_workthrough_max"`
	SyncLongHoldoffFrames  int   `mapstructure:"sync_long_holdoff_frames" json:"sync_long_holdoff_frames"`
	SyncClockJumpPpm       int64 `mapstructure:"sync_clock_jump_ppm" json:"sync_clock_jump_ppm"`

	AudioCorrectionCapSamples int64 `mapstructure:"audio_correction_cap_samples" json:"audio_correction_cap_samples"`

	DecodeInTimeFailureCount int    `mapstructure:"decode_in_time_failure_count" json:"decode_in_time_failure_count"`
	DecodeInTimePauseFrames  int    `mapstructure:"decode_in_time_pause_frames" json:"decode_in_time_pause_frames"`
	RebaseMarginUs           int64  `mapstructure:"rebase_margin_us" json:"rebase_margin_us"`
	DecodeBufferAction       string `mapstructure:"decode_buffer_exhaustion_action" json:"decode_buffer_exhaustion_action"`
	CodedDataAction          string `mapstructure:"coded_data_starvation_action" json:"coded_data_starvation_action"`
	DecodeRateAction         string `mapstructure:"decode_rate_shortfall_action" json:"decode_rate_shortfall_action"`

	FutureFrameWindowUs int64 `mapstructure:"future_frame_window_us" json:"future_frame_window_us"`
	DecodeWindowPorchUs int64 `mapstructure:"decode_window_porch_us" json:"decode_window_porch_us"`

	TrickModeRateMarginFps         int64 `mapstructure:"trick_mode_rate_margin_fps" json:"trick_mode_rate_margin_fps"`
	GroupStructureWindow           int   `mapstructure:"group_structure_window" json:"group_structure_window"`
	ReferenceVerificationKeyFrames int   `mapstructure:"reference_verification_key_frames" json:"reference_verification_key_frames"`
}

// SimulationCfg 는 playout 시뮬레이터 설정이다.
type SimulationCfg struct {
	SimFrames         int     `mapstructure:"sim_frames" json:"sim_frames"`
	SimSpeed          string  `mapstructure:"sim_speed" json:"sim_speed"`
	SimReverse        bool    `mapstructure:"sim_reverse" json:"sim_reverse"`
	SimFrameRate      int64   `mapstructure:"sim_frame_rate" json:"sim_frame_rate"`
	SimGroupSize      int     `mapstructure:"sim_group_size" json:"sim_group_size"`
	SimReferenceCount int     `mapstructure:"sim_reference_count" json:"sim_reference_count"`
	SimPulldown       bool    `mapstructure:"sim_pulldown" json:"sim_pulldown"`
	SimJitterUs       int64   `mapstructure:"sim_jitter_us" json:"sim_jitter_us"`
	SimDecodeRate     int64   `mapstructure:"sim_decode_rate" json:"sim_decode_rate"`
	SimLateRatio      float64 `mapstructure:"sim_late_ratio" json:"sim_late_ratio"`
}

// PlayerCfg 는 전체 설정이다. 키는 평평하게 유지해 플래그, 파일, 환경변수에서 같은 이름을 쓴다.
type PlayerCfg struct {
	Level             string `mapstructure:"level" json:"level"`
	ConfigFile        string `mapstructure:"config_file" json:"config_file"`
	RedisAddr         string `mapstructure:"redis_addr" json:"redis_addr"`
	RedisPwd          string `mapstructure:"redis_pwd" json:"redis_pwd"`
	AVDSync           bool   `mapstructure:"avd_sync" json:"avd_sync"`
	LivePlayback      bool   `mapstructure:"live_playback" json:"live_playback"`
	PacketInjector    bool   `mapstructure:"packet_injector" json:"packet_injector"`
	LateFrameDisposal string `mapstructure:"late_frame_disposal" json:"late_frame_disposal"`
	MasterClock       string `mapstructure:"master_clock" json:"master_clock"`
	TrickModeDomain   int    `mapstructure:"trick_mode_domain" json:"trick_mode_domain"`

	TimingCfg     `mapstructure:",squash"`
	SimulationCfg `mapstructure:",squash"`
}

// default config
var defaultTiming = TimingCfg{
	SyncThresholdUs:        1000,
	SyncStartupThresholdUs: 4000,
	SyncStartupFrames:      8192,
	SyncIntegrationCount:   4,
	SyncHardCeilingUs:      100000,
	SyncResyncThresholdUs:  4000,
	SyncWorkthroughMin:     2,
	SyncWorkthroughMax:     16,
	SyncLongHoldoffFrames:  1088,
	SyncClockJumpPpm:       4,

	AudioCorrectionCapSamples: 256,

	DecodeInTimeFailureCount: 16,
	DecodeInTimePauseFrames:  64,
	RebaseMarginUs:           20000,
	DecodeBufferAction:       "event",
	CodedDataAction:          "event",
	DecodeRateAction:         "rebase_event",

	FutureFrameWindowUs: 5 * 60 * 1000000,
	DecodeWindowPorchUs: 0,

	TrickModeRateMarginFps:         2,
	GroupStructureWindow:           8,
	ReferenceVerificationKeyFrames: 2,
}

var defaultConf = PlayerCfg{
	Level:             "info",
	ConfigFile:        "playout.yaml",
	AVDSync:           true,
	LateFrameDisposal: "after_synchronize",
	MasterClock:       "system",
	TimingCfg:         defaultTiming,
	SimulationCfg: SimulationCfg{
		SimFrames:         500,
		SimSpeed:          "1",
		SimFrameRate:      25,
		SimGroupSize:      12,
		SimReferenceCount: 4,
		SimDecodeRate:     100,
	},
}

var (
	Config = viper.New()
)

// DefaultTimingCfg returns the built-in engine tunables.
func DefaultTimingCfg() TimingCfg {
	return defaultTiming
}

func initLog() {
	if l, err := log.ParseLevel(Config.GetString("level")); err == nil {
		log.SetLevel(l)
		log.SetReportCaller(l == log.DebugLevel)
	}
}

func newFlagSet() *pflag.FlagSet {
	fs := pflag.NewFlagSet("playout", pflag.ContinueOnError)
	fs.String("config_file", "playout.yaml", "configure filename")
	fs.String("level", "info", "Log level")
	fs.String("redis_addr", "", "redis address holding shared playback policies")
	fs.String("redis_pwd", "", "redis password")
	fs.Bool("avd_sync", true, "enable audio/video/display synchronization")
	fs.Bool("live_playback", false, "playback of a live source")
	fs.Bool("packet_injector", false, "live playback fed by a packet injector")
	fs.String("late_frame_disposal", "after_synchronize", "late frame disposal: never, after_synchronize, always")
	fs.String("master_clock", "system", "master clock: system, video, audio")
	fs.Int("trick_mode_domain", 0, "force a trick mode domain (0 = automatic)")
	fs.Int64("sync_threshold_us", defaultTiming.SyncThresholdUs, "synchronization error threshold")
	fs.Int("sync_integration_count", defaultTiming.SyncIntegrationCount, "frames integrated before an error is confirmed")
	fs.Int("sync_workthrough_min", defaultTiming.SyncWorkthroughMin, "lower clamp of the correction workthrough")
	fs.Int("sync_workthrough_max", defaultTiming.SyncWorkthroughMax, "upper clamp of the correction workthrough")
	fs.Int("decode_in_time_failure_count", defaultTiming.DecodeInTimeFailureCount, "consecutive late frames before recovery")
	fs.Int("decode_in_time_pause_frames", defaultTiming.DecodeInTimePauseFrames, "cooldown after a decode in time failure")
	fs.Int64("decode_window_porch_us", defaultTiming.DecodeWindowPorchUs, "extra lead before the decode window opens")
	fs.Int("sim_frames", 500, "simulated frame count")
	fs.String("sim_speed", "1", "simulated playback speed as a fraction")
	fs.Bool("sim_reverse", false, "simulate backward playback")
	fs.Int64("sim_frame_rate", 25, "simulated coded frame rate")
	fs.Int("sim_group_size", 12, "simulated GOP size")
	fs.Int("sim_reference_count", 4, "simulated reference frames per GOP")
	fs.Bool("sim_pulldown", false, "simulate 3:2 pulldown content")
	fs.Int64("sim_jitter_us", 0, "simulated presentation jitter, starts long holdoffs")
	fs.Int64("sim_decode_rate", 100, "simulated empirical decode frame rate")
	fs.Float64("sim_late_ratio", 0, "fraction of frames presented late")
	return fs
}

// Init layers defaults, command line flags, the config file and the environment into Config.
func Init(args []string) error {
	// Default config
	b, _ := json.Marshal(defaultConf)
	defaults := viper.New()
	defaults.SetConfigType("json")
	if err := defaults.ReadConfig(bytes.NewReader(b)); err != nil {
		return err
	}
	// 설정 파일을 읽으면 config 계층이 교체되므로 기본값은 default 계층에 둔다.
	for k, v := range defaults.AllSettings() {
		Config.SetDefault(k, v)
	}

	// Flags
	fs := newFlagSet()
	if err := fs.Parse(args); err != nil {
		return err
	}
	Config.BindPFlags(fs)

	// File
	Config.SetConfigFile(Config.GetString("config_file"))
	Config.AddConfigPath(".")
	err := Config.ReadInConfig()
	if err != nil {
		log.Warning(err)
		log.Info("Using default config")
	} else {
		Config.MergeInConfig()
	}

	// Environment
	replacer := strings.NewReplacer(".", "_")
	Config.SetEnvKeyReplacer(replacer)
	Config.AllowEmptyEnv(true)
	Config.AutomaticEnv()

	// Log
	initLog()

	// Print final config
	c, err := Load()
	if err != nil {
		return err
	}
	log.Debugf("Current configurations: \n%# v", pretty.Formatter(c))
	return nil
}

// Load decodes Config into a PlayerCfg.
func Load() (PlayerCfg, error) {
	c := PlayerCfg{}
	err := Config.Unmarshal(&c)
	return c, err
}
