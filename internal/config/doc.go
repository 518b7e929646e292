// Package config загружает конфигурацию процесса движка.
//
// Источники по возрастанию приоритета:
//   - значения по умолчанию
//   - YAML-файл (флаг --config или CONVEYOR_CONFIG_FILE)
//   - переменные окружения CONVEYOR_<KEY>, например CONVEYOR_MAX_WORKERS=20
//
// Длительности задаются строками time.ParseDuration ("500ms", "30s").
//
//	cfg, err := config.Load(path)
//	if err != nil {
//	    return err
//	}
//	ocfg := cfg.Orchestrator()
package config
