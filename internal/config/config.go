package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	ADO       ADO       `mapstructure:"ado" json:"ado"`
	Query     Query     `mapstructure:"query" json:"query"`
	Create    Create    `mapstructure:"create" json:"create"`
	Search    Search    `mapstructure:"search" json:"search"`
	Embedding Embedding `mapstructure:"embedding" json:"embedding"`
	Server    Server    `mapstructure:"server" json:"server"`
	Auth      Auth      `mapstructure:"auth" json:"auth"`
	Client    Client    `mapstructure:"client" json:"client"`
}

type ADO struct {
	BaseURL      string        `mapstructure:"base_url" json:"baseUrl"`
	Organization string        `mapstructure:"organization" json:"organization"`
	Team         string        `mapstructure:"team" json:"team"`
	Project      string        `mapstructure:"project" json:"project"`
	PAT          string        `mapstructure:"pat" json:"pat"`
	Top          int           `mapstructure:"top" json:"top"`
	Timeout      time.Duration `mapstructure:"timeout" json:"timeout"`
	RateLimit    float64       `mapstructure:"rate_limit" json:"rateLimit"`
	Insecure     bool          `mapstructure:"insecure" json:"insecure"`
}

type Query struct {
	ExcludedStates   []string `mapstructure:"excluded_states" json:"excludedStates"`
	DaysBack         int      `mapstructure:"days_back" json:"daysBack"`
	WorkItemTypes    []string `mapstructure:"work_item_types" json:"workItemTypes"`
	AreaPaths        []string `mapstructure:"area_paths" json:"areaPaths"`
	AreaPathMode     string   `mapstructure:"area_path_mode" json:"areaPathMode"`
	BatchConcurrency int      `mapstructure:"batch_concurrency" json:"batchConcurrency"`
	FieldsFile       string   `mapstructure:"fields_file" json:"fieldsFile"`
	RichTextFields   []string `mapstructure:"rich_text_fields" json:"richTextFields"`
}

type Create struct {
	Organization  string            `mapstructure:"organization" json:"organization"`
	Project       string            `mapstructure:"project" json:"project"`
	DefaultFields []FieldDefault `mapstructure:"default_fields" json:"defaultFields"`
}

// FieldDefault is a field set on every created work item unless the request
// sets it. Listed as pairs so dotted reference names keep their casing.
type FieldDefault struct {
	Ref   string `mapstructure:"ref" json:"ref"`
	Value string `mapstructure:"value" json:"value"`
}

// Defaults returns the configured default fields keyed by reference name.
// Later entries win over earlier ones with the same name.
func (c Create) Defaults() map[string]string {
	out := make(map[string]string, len(c.DefaultFields))
	for _, f := range c.DefaultFields {
		ref := strings.TrimSpace(f.Ref)
		if ref == "" {
			continue
		}
		out[ref] = f.Value
	}
	return out
}

type Search struct {
	Endpoint   string `mapstructure:"endpoint" json:"endpoint"`
	Key        string `mapstructure:"key" json:"key"`
	Index      string `mapstructure:"index" json:"index"`
	APIVersion string `mapstructure:"api_version" json:"apiVersion"`
}

type Embedding struct {
	APIKey string `mapstructure:"api_key" json:"apiKey"`
	Model  string `mapstructure:"model" json:"model"`
}

type Server struct {
	Addr string `mapstructure:"addr" json:"addr"`
}

type Auth struct {
	Username string `mapstructure:"username" json:"username"`
	Password string `mapstructure:"password" json:"password"`
}

type Client struct {
	TTL time.Duration `mapstructure:"ttl" json:"ttl"`
}

var envKeys = map[string]string{
	"ado.base_url":            "ADO_BASE_URL",
	"ado.organization":        "ADO_ORGANIZATION",
	"ado.team":                "ADO_TEAM",
	"ado.project":             "ADO_PROJECT",
	"ado.pat":                 "ADO_PAT",
	"ado.top":                 "ADO_TOP",
	"ado.timeout":             "ADO_TIMEOUT",
	"ado.rate_limit":          "ADO_RATE_LIMIT",
	"ado.insecure":            "ADO_INSECURE",
	"query.excluded_states":   "ADO_EXCLUDED_STATES",
	"query.days_back":         "ADO_DAYS_BACK",
	"query.work_item_types":   "ADO_WORK_ITEM_TYPES",
	"query.area_paths":        "ADO_AREA_PATHS",
	"query.area_path_mode":    "ADO_AREA_PATH_MODE",
	"query.batch_concurrency": "ADO_BATCH_CONCURRENCY",
	"query.fields_file":       "ADO_FIELDS_FILE",
	"query.rich_text_fields":  "ADO_RICH_TEXT_FIELDS",
	"create.organization":     "ADO_TARGET_ORGANIZATION",
	"create.project":          "ADO_TARGET_PROJECT",
	"search.endpoint":         "SEARCH_ENDPOINT",
	"search.key":              "SEARCH_KEY",
	"search.index":            "SEARCH_INDEX",
	"embedding.api_key":       "EMBEDDING_API_KEY",
	"embedding.model":         "EMBEDDING_MODEL",
	"server.addr":             "LISTEN_ADDR",
	"auth.username":           "API_USERNAME",
	"auth.password":           "API_PASSWORD",
	"client.ttl":              "ADO_CLIENT_TTL",
}

// DefaultAreaPaths is the area path set used when a request names none.
var DefaultAreaPaths = []string{
	`Elo\Meios de Pagamento e Anti Fraude\Meios de Pagamento\Credenciais de Pagamentos`,
	`Elo\Meios de Pagamento e Anti Fraude\Anti-Fraude\Compra Online`,
	`Elo\Meios de Pagamento e Anti Fraude\Anti-Fraude\Demandas a Prev Fraude`,
	`Elo\Meios de Pagamento e Anti Fraude\Anti-Fraude\Transacional`,
	`Elo\Meios de Pagamento e Anti Fraude\Anti-Fraude\Validação Cadastral`,
	`Elo\Meios de Pagamento e Anti Fraude\Anti-Fraude\Consórcio combate a fraudes`,
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ado.base_url", "https://dev.azure.com/")
	v.SetDefault("ado.organization", "elobr")
	v.SetDefault("ado.team", "Elo")
	v.SetDefault("ado.project", "Estrategia e Transformacao")
	v.SetDefault("ado.top", 50)
	v.SetDefault("ado.timeout", 30*time.Second)
	v.SetDefault("ado.rate_limit", 10.0)
	v.SetDefault("query.excluded_states", []string{"Completed", "Canceled", "Done", "Resolved", "Closed"})
	v.SetDefault("query.days_back", 60)
	v.SetDefault("query.work_item_types", []string{"Iniciativa E2E"})
	v.SetDefault("query.area_paths", DefaultAreaPaths)
	v.SetDefault("query.area_path_mode", "combine")
	v.SetDefault("query.batch_concurrency", 1)
	v.SetDefault("query.rich_text_fields", []string{"System.Description"})
	v.SetDefault("search.api_version", "2023-11-01")
	v.SetDefault("embedding.model", "gemini-embedding-001")
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("client.ttl", 15*time.Minute)
}

func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "boards-wiql", "config.yaml"), nil
}

// Load layers defaults, an optional config file and the environment.
// An explicit path must exist; the default path is optional.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)
	for key, env := range envKeys {
		if err := v.BindEnv(key, env); err != nil {
			return Config{}, err
		}
	}

	explicit := path != ""
	if !explicit {
		var err error
		path, err = DefaultPath()
		if err != nil {
			return Config{}, err
		}
	}
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if explicit || !(errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist)) {
			return Config{}, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	cfg.normalize()
	return cfg, nil
}

func (c *Config) normalize() {
	c.Query.ExcludedStates = trimList(c.Query.ExcludedStates)
	c.Query.WorkItemTypes = trimList(c.Query.WorkItemTypes)
	c.Query.AreaPaths = trimList(c.Query.AreaPaths)
	c.Query.RichTextFields = trimList(c.Query.RichTextFields)
	if c.Create.Organization == "" {
		c.Create.Organization = c.ADO.Organization
	}
	if c.Create.Project == "" {
		c.Create.Project = c.ADO.Project
	}
	if c.Query.BatchConcurrency < 1 {
		c.Query.BatchConcurrency = 1
	}
}

func trimList(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}

// AuthEnabled reports whether inbound requests must carry basic auth.
func (c Config) AuthEnabled() bool {
	return c.Auth.Username != "" || c.Auth.Password != ""
}

func (c Config) SearchEnabled() bool {
	return c.Search.Endpoint != "" && c.Search.Key != "" && c.Search.Index != ""
}

func (c Config) Redacted() Config {
	out := c
	out.ADO.PAT = redact(c.ADO.PAT)
	out.Search.Key = redact(c.Search.Key)
	out.Embedding.APIKey = redact(c.Embedding.APIKey)
	out.Auth.Password = redact(c.Auth.Password)
	return out
}

func redact(s string) string {
	if s == "" {
		return ""
	}
	return "***"
}
