package main

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"net/http/pprof"
	"os"
	"reflect"
	"syscall"
	"time"

	"github.com/aukilabs/go-tooling/pkg/cli"
	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/aukilabs/go-tooling/pkg/metrics"
	"github.com/aukilabs/meadow/authoring"
	"github.com/aukilabs/meadow/featureflag"
	"github.com/aukilabs/meadow/gpu"
	"github.com/aukilabs/meadow/gpu/soft"
	"github.com/aukilabs/meadow/host"
	meadowhttp "github.com/aukilabs/meadow/http"
	"github.com/aukilabs/meadow/models"
	"github.com/aukilabs/meadow/pipeline"
	"github.com/aukilabs/meadow/spatial"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/segmentio/encoding/json"
	"golang.org/x/sync/errgroup"
)

var (
	// The Meadow version number. Set at build.
	version = "v0.1.0"

	infoGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name:        "meadow_info",
		Help:        "Meadow information.",
		ConstLabels: prometheus.Labels{"version": version},
	})
)

// This will effectively disable obfuscation of the config struct. Without it, the keys would get obfuscated causing the cli package to generate garbled command-line options.
// https://github.com/burrowers/garble/issues/403
var _ = reflect.TypeOf(config{})

type config struct {
	AdminAddr       string        `cli:""        env:"MEADOW_ADMIN_ADDR"        help:"Admin listening address."`
	LogLevel        string        `cli:""        env:"MEADOW_LOG_LEVEL"         help:"Log level (debug|info|warning|error)."`
	LogIndent       bool          `cli:""        env:"MEADOW_LOG_INDENT"        help:"Indent logs."`
	FrameDuration   time.Duration `cli:",hidden" env:"MEADOW_FRAME_DURATION"    help:"The duration of a frame."`
	Instances       int           `cli:""        env:"MEADOW_INSTANCES"         help:"The number of grass blades scattered at startup."`
	WorldSize       float64       `cli:""        env:"MEADOW_WORLD_SIZE"        help:"The side of the square area covered by grass."`
	Seed            uint64        `cli:",hidden" env:"MEADOW_SEED"              help:"The seed used to scatter grass blades."`
	TreeDepth       int           `cli:",hidden" env:"MEADOW_TREE_DEPTH"        help:"The depth of the partition tree."`
	CellSize        float64       `cli:",hidden" env:"MEADOW_CELL_SIZE"         help:"The authoring brush size, used as grid cell size."`
	MaxVertices     int           `cli:",hidden" env:"MEADOW_MAX_VERTICES"      help:"The capacity of the generated vertex buffer."`
	ThreadGroupSize uint32        `cli:",hidden" env:"MEADOW_THREAD_GROUP_SIZE" help:"The compute thread group size. Must be a power of two."`
	OrbitPeriod     time.Duration `cli:",hidden" env:"MEADOW_ORBIT_PERIOD"      help:"The duration of a camera orbit."`
	FeatureFlags    []string      `cli:",hidden" env:"MEADOW_FEATURE_FLAGS"     help:"Comma separated feature flags"`
	Version         bool          `cli:""        env:"-"                        help:"Show version."`
	Help            bool          `cli:""        env:"-"                        help:"Show help."`
}

type cutEffect struct{}

func main() {
	defaults := pipeline.DefaultConfig()
	conf := config{
		AdminAddr:       ":18190",
		LogLevel:        logs.InfoLevel.String(),
		FrameDuration:   host.DefaultConfig().FrameDuration,
		Instances:       100000,
		WorldSize:       200,
		Seed:            1,
		TreeDepth:       defaults.TreeDepth,
		CellSize:        authoring.DefaultBrushSize,
		MaxVertices:     defaults.MaxVertices,
		ThreadGroupSize: 64,
		OrbitPeriod:     time.Second * 30,
	}

	// set the information gauge to 1, useful for SUM query
	infoGauge.Set(1)

	ctx, cancel := cli.ContextWithSignals(context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
	)
	defer cancel()

	cli.Register().
		Help("Starts a Meadow host drawing a grass field with an orbiting camera.").
		Options(&conf)
	cli.Load()

	if conf.Version {
		fmt.Println(version)
		os.Exit(0)
	}

	if err := validateConfig(conf); err != nil {
		logs.Fatal(err)
	}

	logs.SetLevel(logs.ParseLevel(conf.LogLevel))
	logs.Encoder = json.Marshal
	if conf.LogIndent {
		logs.Encoder = func(v any) ([]byte, error) {
			return json.MarshalIndent(v, "", "  ")
		}
	}

	errors.Encoder = json.Marshal

	hostConfig := host.DefaultConfig()
	hostConfig.FrameDuration = conf.FrameDuration
	hostConfig.Pipeline = pipeline.Config{
		TreeDepth:      conf.TreeDepth,
		MaxVertices:    conf.MaxVertices,
		CastShadows:    defaults.CastShadows,
		ReceiveShadows: defaults.ReceiveShadows,
		FeatureFlags:   featureflag.New(conf.FeatureFlags),
	}

	// Frames run until shutdown, nothing reads the recorded calls.
	renderer := soft.NewRenderer()
	renderer.SetRecordLimit(0)

	store := models.NewInstanceStore()
	adapter := host.New(hostConfig,
		soft.NewDevice(),
		renderer,
		gpu.Resources{
			Program:   soft.NewProgram(conf.ThreadGroupSize),
			Material:  soft.NewMaterial(),
			CutEffect: cutEffect{},
		},
		store,
	)
	defer adapter.Shutdown()

	if err := scatter(ctx, adapter, conf); err != nil {
		logs.Fatal(err)
	}

	if err := adapter.Init(); err != nil {
		logs.Fatal(err)
	}
	adapter.Activate(float32(conf.CellSize))

	var admin http.ServeMux
	admin.Handle("/metrics", promhttp.Handler())
	admin.HandleFunc("/health", meadowhttp.HandleHealthCheck)
	admin.HandleFunc("/ready", meadowhttp.HandleReadyCheck(adapter.Ready))
	admin.HandleFunc("/version", meadowhttp.HandleVersion(version))
	admin.HandleFunc("/debug/pipeline", meadowhttp.HandleStats(func() any {
		return adapter.Stats()
	}))
	admin.HandleFunc("/debug/pprof/", pprof.Index)
	admin.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	admin.HandleFunc("/debug/pprof/profile", pprof.Profile)
	admin.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	admin.HandleFunc("/debug/pprof/trace", pprof.Trace)
	admin.Handle("/debug/pprof/goroutine", pprof.Handler("goroutine"))
	admin.Handle("/debug/pprof/heap", pprof.Handler("heap"))
	admin.Handle("/debug/pprof/threadcreate", pprof.Handler("threadcreate"))
	admin.Handle("/debug/pprof/block", pprof.Handler("block"))

	logs.WithTag("version", version).
		WithTag("log_level", conf.LogLevel).
		WithTag("admin_addr", conf.AdminAddr).
		WithTag("instances", store.Len()).
		WithTag("session_uuid", adapter.SessionUUID).
		WithTag("feature_flags", hostConfig.Pipeline.FeatureFlags.Flags()).
		Info("starting meadow host")

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return meadowhttp.ListenAndServe(ctx, &http.Server{
			Addr:    conf.AdminAddr,
			Handler: metrics.HTTPHandler(&admin, meadowhttp.MetricsPathFormatter),
		})
	})
	g.Go(func() error {
		adapter.Run(ctx, orbit(conf))
		return nil
	})

	if err := g.Wait(); err != nil {
		logs.Warn(errors.New("meadow host stopped").Wrap(err))
	}
}

func scatter(ctx context.Context, adapter *host.Adapter, conf config) error {
	size := float32(conf.WorldSize)
	task := adapter.Submit(ctx, func(s *authoring.Session) authoring.Job {
		return authoring.NewScatterJob(s, []authoring.Region{
			{
				Bounds: spatial.AABB{
					Min: mgl32.Vec3{-size / 2, 0, -size / 2},
					Max: mgl32.Vec3{size / 2, 0, size / 2},
				},
				Count: conf.Instances,
			},
		}, authoring.DefaultBlade(), 0, conf.Seed)
	})

	res, err := task.Wait()
	if err != nil {
		return errors.New("scattering grass failed").Wrap(err)
	}

	logs.WithTag("batches", res.Applied).
		WithTag("duration", res.Duration.String()).
		Debug("grass scattered")
	return nil
}

// orbit returns a camera circling the world center, looking at it from
// above. Cameras look down their local -Z axis.
func orbit(conf config) host.CameraFunc {
	radius := float32(conf.WorldSize)
	height := radius / 4
	perFrame := 2 * math.Pi * conf.FrameDuration.Seconds() / conf.OrbitPeriod.Seconds()

	return func(frame uint64) models.Camera {
		angle := float32(perFrame * float64(frame))
		position := mgl32.Vec3{
			radius * float32(math.Cos(float64(angle))),
			height,
			radius * float32(math.Sin(float64(angle))),
		}

		yaw := mgl32.QuatRotate(math.Pi/2-angle, mgl32.Vec3{0, 1, 0})
		pitch := mgl32.QuatRotate(-float32(math.Atan2(float64(height), float64(radius))), mgl32.Vec3{1, 0, 0})
		rotation := yaw.Mul(pitch)
		return models.Camera{
			Pose:       models.NewPose(position, rotation),
			Projection: models.DefaultProjection(),
		}
	}
}

func validateConfig(conf config) error {
	if conf.Instances < 0 {
		return errors.New("invalid instance count").WithTag("instances", conf.Instances)
	}

	if conf.WorldSize <= 0 {
		return errors.New("invalid world size").WithTag("world_size", conf.WorldSize)
	}

	if conf.FrameDuration <= 0 || conf.OrbitPeriod <= 0 {
		return errors.New("frame duration and orbit period must be positive")
	}

	if !spatial.IsPowerOfTwo(conf.ThreadGroupSize) {
		return errors.New("thread group size is not a power of two").
			WithTag("thread_group_size", conf.ThreadGroupSize)
	}

	return nil
}
