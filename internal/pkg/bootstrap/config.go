package bootstrap

import (
	"log"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"
)

// Config 是所有服务共享的配置结构，从 YAML 文件加载，
// 关键的基础设施地址允许用环境变量覆盖，便于容器化部署。
type Config struct {
	App struct {
		Order struct {
			ProcessingTimeout time.Duration `yaml:"processingTimeout"` // 单次订单操作的超时上限
			ReconcileAttempts int           `yaml:"reconcileAttempts"` // 状态回读重试次数
			ReconcileInterval time.Duration `yaml:"reconcileInterval"` // 状态回读重试间隔
		} `yaml:"order"`
	} `yaml:"app"`
	Infra struct {
		Mysql struct {
			DSN string `yaml:"dsn"`
		} `yaml:"mysql"`
		Kafka struct {
			Brokers []string `yaml:"brokers"`
		} `yaml:"kafka"`
		Redis struct {
			Addr string `yaml:"addr"`
		} `yaml:"redis"`
		Jaeger struct {
			Endpoint string `yaml:"endpoint"`
		} `yaml:"jaeger"`
		Nacos struct {
			ServerAddrs string `yaml:"serverAddrs"`
			Namespace   string `yaml:"namespace"`
			Group       string `yaml:"group"`
		} `yaml:"nacos"`
	} `yaml:"infra"`
}

var currentConfig atomic.Pointer[Config]

// Init 加载配置文件并应用环境变量覆盖。必须在 StartService 之前调用。
func Init() {
	cfg := defaultConfig()

	path := getEnv("CONFIG_PATH", "configs/config.yaml")
	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			log.Fatalf("FATAL: invalid config file %s: %v", path, err)
		}
	} else {
		log.Printf("⚠️ WARNING: config file %s not readable (%v), using defaults.", path, err)
	}

	// 环境变量优先级最高
	if v := os.Getenv("MYSQL_DSN"); v != "" {
		cfg.Infra.Mysql.DSN = v
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		cfg.Infra.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Infra.Redis.Addr = v
	}
	if v := os.Getenv("JAEGER_ENDPOINT"); v != "" {
		cfg.Infra.Jaeger.Endpoint = v
	}
	if v := os.Getenv("NACOS_SERVER_ADDRS"); v != "" {
		cfg.Infra.Nacos.ServerAddrs = v
	}
	if v := os.Getenv("NACOS_NAMESPACE"); v != "" {
		cfg.Infra.Nacos.Namespace = v
	}
	if v := os.Getenv("NACOS_GROUP"); v != "" {
		cfg.Infra.Nacos.Group = v
	}

	currentConfig.Store(cfg)
}

// GetCurrentConfig 返回当前生效的配置。
func GetCurrentConfig() *Config {
	cfg := currentConfig.Load()
	if cfg == nil {
		log.Fatal("FATAL: bootstrap.Init() must be called before GetCurrentConfig()")
	}
	return cfg
}

func defaultConfig() *Config {
	cfg := &Config{}
	cfg.App.Order.ProcessingTimeout = 30 * time.Second
	cfg.App.Order.ReconcileAttempts = 10
	cfg.App.Order.ReconcileInterval = 100 * time.Millisecond
	cfg.Infra.Mysql.DSN = "taphouse:taphouse@tcp(localhost:3306)/taphouse?parseTime=true"
	cfg.Infra.Kafka.Brokers = []string{"localhost:9092"}
	cfg.Infra.Redis.Addr = "localhost:6379"
	cfg.Infra.Jaeger.Endpoint = "http://localhost:14268/api/traces"
	cfg.Infra.Nacos.ServerAddrs = "localhost:8848"
	cfg.Infra.Nacos.Group = "DEFAULT_GROUP"
	return cfg
}
