package config

import (
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"regexp"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	baseFile    = "base.yaml"
	secretsFile = "secrets.env"
)

// ${NAME} 或 ${NAME:-default}
var placeholder = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-([^}]*))?\}`)

// Source 描述配置从哪里加载
type Source struct {
	Env string // local, production, ...
	Dir string
}

// SourceFromEnv reads CONFIG_ENV (default local) and CONFIG_DIR (default config).
func SourceFromEnv() Source {
	return Source{Env: GetConfigEnv(), Dir: GetEnv("CONFIG_DIR", "config")}
}

// LoadConfig builds the merged configuration tree for env:
// base.yaml, then <env>.yaml on top, then placeholders resolved from secrets.env and the process environment.
func LoadConfig(env string, configDir string) (map[string]any, error) {
	if configDir == "" {
		configDir = "config"
	}

	tree, err := loadYAMLFile(filepath.Join(configDir, baseFile))
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", baseFile, err)
	}

	if env != "" && env != "base" {
		overlay, err := loadYAMLFile(filepath.Join(configDir, env+".yaml"))
		switch {
		case err == nil:
			tree = mergeMaps(tree, overlay)
		case !os.IsNotExist(err):
			return nil, fmt.Errorf("failed to load %s.yaml: %w", env, err)
		}
	}

	secrets := map[string]string{}
	if path := filepath.Join(configDir, secretsFile); fileExists(path) {
		if secrets, err = godotenv.Read(path); err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", secretsFile, err)
		}
	}
	return expand(tree, secrets), nil
}

// LoadService decodes the shared keys and then the service's own section into out,
// so "task_service.db.name" wins over "db.name".
func LoadService(src Source, section string, out any) error {
	tree, err := LoadConfig(src.Env, src.Dir)
	if err != nil {
		return err
	}
	if sub, ok := tree[section].(map[string]any); ok {
		tree = mergeMaps(tree, sub)
	}
	return Decode(tree, out)
}

// Decode 把合并后的 map 转换为服务自己的配置结构
func Decode(tree map[string]any, out any) error {
	data, err := yaml.Marshal(tree)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return nil
}

func loadYAMLFile(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	tree := map[string]any{}
	if err := yaml.Unmarshal(data, &tree); err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return tree, nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// mergeMaps returns a new tree where src wins over dst; nested maps merge key by key.
func mergeMaps(dst, src map[string]any) map[string]any {
	out := maps.Clone(dst)
	if out == nil {
		out = map[string]any{}
	}
	for k, v := range src {
		if sub, ok := v.(map[string]any); ok {
			if base, ok := out[k].(map[string]any); ok {
				out[k] = mergeMaps(base, sub)
				continue
			}
		}
		out[k] = v
	}
	return out
}

// expand resolves placeholders in every string leaf. secrets take precedence over the
// process environment; an unset variable without a default expands to "".
func expand(tree map[string]any, secrets map[string]string) map[string]any {
	out := make(map[string]any, len(tree))
	for k, v := range tree {
		switch val := v.(type) {
		case string:
			out[k] = expandString(val, secrets)
		case map[string]any:
			out[k] = expand(val, secrets)
		default:
			out[k] = v
		}
	}
	return out
}

func expandString(s string, secrets map[string]string) string {
	return placeholder.ReplaceAllStringFunc(s, func(m string) string {
		parts := placeholder.FindStringSubmatch(m)
		if v, ok := secrets[parts[1]]; ok {
			return v
		}
		if v, ok := os.LookupEnv(parts[1]); ok {
			return v
		}
		return parts[2]
	})
}

// GetEnv 获取环境变量，如果未设置则返回默认值
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// GetConfigEnv 获取配置环境（CONFIG_ENV，默认为 local）
func GetConfigEnv() string {
	return GetEnv("CONFIG_ENV", "local")
}
