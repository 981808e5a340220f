/*
Package config defines Configuration, the node's full set of startup
tunables, loaded by Load from a YAML file (gopkg.in/yaml.v3) layered over
Default and then environment overrides.
*/
package config
