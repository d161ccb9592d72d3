package service

// Engine bundles the full service surface of the task engine. Embedders
// (transports, jobs, tests) take an Engine instead of six constructor
// parameters.
type Engine struct {
	Wallet   *WalletService
	Progress *ProgressService
	Spawner  *SpawnerService
	Task     *TaskService
	Admin    *AdminService
	Catalog  *CatalogService
}
