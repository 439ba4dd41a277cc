package server

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/ssm"
	"gopkg.in/yaml.v2"
)

// ssmPrefix marks a configuration source that lives in Parameter Store
const ssmPrefix = "ssm:"

// DocumentDBConfig holds the DocumentDB connection settings
type DocumentDBConfig struct {
	ConnectionString   string `yaml:"connection_string" json:"connection_string"`
	PasswordSecretArn  string `yaml:"password_secret_arn" json:"password_secret_arn"`
	DatabaseName       string `yaml:"database_name" json:"database_name"`
	BlogsCollection    string `yaml:"blogs_collection" json:"blogs_collection"`
	CommentsCollection string `yaml:"comments_collection" json:"comments_collection"`
	AuthMechanism      string `yaml:"auth_mechanism" json:"auth_mechanism"`
	AuthSource         string `yaml:"auth_source" json:"auth_source"`
	TLSCAFile          string `yaml:"tls_ca_file" json:"tls_ca_file"`
	TLSSkipVerify      bool   `yaml:"tls_skip_verify" json:"tls_skip_verify"`
}

// Config represents the function configuration
type Config struct {
	Server struct {
		HTTPPort int `yaml:"http_port" json:"http_port"`
		GRPCPort int `yaml:"grpc_port" json:"grpc_port"`
	} `yaml:"server" json:"server"`
	AWS struct {
		Region     string           `yaml:"region" json:"region"`
		DocumentDB DocumentDBConfig `yaml:"documentdb" json:"documentdb"`
	} `yaml:"aws" json:"aws"`
	Function struct {
		TimeoutSeconds  int  `yaml:"timeout_seconds" json:"timeout_seconds"`
		MaxPageSize     int  `yaml:"max_page_size" json:"max_page_size"`
		DisableTestData bool `yaml:"disable_test_data" json:"disable_test_data"`
	} `yaml:"function" json:"function"`
	Log struct {
		Level  string `yaml:"level" json:"level"`
		Format string `yaml:"format" json:"format"`
	} `yaml:"log" json:"log"`
}

// LoadConfig loads the configuration from a YAML file, or from Parameter Store
// when source is of the form "ssm:/path/to/parameter"
func LoadConfig(source string) (*Config, error) {
	if strings.HasPrefix(source, ssmPrefix) {
		return loadConfigFromParameterStore(strings.TrimPrefix(source, ssmPrefix))
	}
	return loadConfigFromFile(source)
}

// loadConfigFromFile loads the configuration from a YAML file
func loadConfigFromFile(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file not found: %s", path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %v", err)
	}

	return parseConfig(data, yaml.Unmarshal)
}

// loadConfigFromParameterStore loads the configuration from AWS Parameter Store
func loadConfigFromParameterStore(paramPath string) (*Config, error) {
	sess, err := session.NewSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %v", err)
	}

	ssmClient := ssm.New(sess)
	param, err := ssmClient.GetParameter(&ssm.GetParameterInput{
		Name:           aws.String(paramPath),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get parameter from Parameter Store: %v", err)
	}

	return parseConfig([]byte(aws.StringValue(param.Parameter.Value)), json.Unmarshal)
}

func parseConfig(data []byte, unmarshal func([]byte, interface{}) error) (*Config, error) {
	var config Config
	if err := unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %v", err)
	}

	applyDefaults(&config)

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Validate reports settings that have no usable default
func (c *Config) Validate() error {
	// The connection string carries the cluster endpoint, so there is no default
	if c.AWS.DocumentDB.ConnectionString == "" {
		return fmt.Errorf("aws.documentdb.connection_string is required")
	}
	if c.Function.MaxPageSize < 1 {
		return fmt.Errorf("function.max_page_size must be positive, got %d", c.Function.MaxPageSize)
	}
	return nil
}

// applyDefaults sets default values for the configuration
func applyDefaults(config *Config) {
	if config.Server.HTTPPort == 0 {
		config.Server.HTTPPort = 8080
	}
	if config.Server.GRPCPort == 0 {
		config.Server.GRPCPort = 8081
	}
	if config.AWS.Region == "" {
		config.AWS.Region = "us-west-2"
	}
	if config.AWS.DocumentDB.DatabaseName == "" {
		config.AWS.DocumentDB.DatabaseName = "blog"
	}
	if config.AWS.DocumentDB.BlogsCollection == "" {
		config.AWS.DocumentDB.BlogsCollection = "blogs"
	}
	if config.AWS.DocumentDB.CommentsCollection == "" {
		config.AWS.DocumentDB.CommentsCollection = "comments"
	}
	if config.AWS.DocumentDB.AuthMechanism == "" {
		config.AWS.DocumentDB.AuthMechanism = "SCRAM-SHA-1"
	}
	if config.AWS.DocumentDB.AuthSource == "" {
		config.AWS.DocumentDB.AuthSource = "admin"
	}
	if config.Function.TimeoutSeconds == 0 {
		config.Function.TimeoutSeconds = 10
	}
	if config.Function.MaxPageSize == 0 {
		config.Function.MaxPageSize = 100
	}
	if config.Log.Level == "" {
		config.Log.Level = "info"
	}
	if config.Log.Format == "" {
		config.Log.Format = "json"
	}
}
