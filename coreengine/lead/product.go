package lead

// CompanyName is the seller every prompt is written for.
const CompanyName = "StratusDB"

// ProductDescription is the fixed description embedded in research and outreach prompts.
const ProductDescription = `StratusAI Warehouse is StratusDB's cloud-native, AI-powered data warehouse for B2B enterprises.

Key capabilities:
- Real-time analytics: stream ingestion with sub-second query latency on fresh data, so dashboards and operational reports never wait on batch loads.
- Multi-cloud data management: one governed warehouse across AWS, Azure and Google Cloud, with cross-cloud replication and a single access-control model.
- AI-driven query optimization: learned cost models rewrite and cache queries automatically and scale compute up and down with workload.
- Built-in machine learning: train and serve models with SQL next to the data, without exporting it.
- Enterprise security: column-level encryption, fine-grained roles, audit logging, SOC 2 Type II and HIPAA readiness.

Typical buyers are data, analytics and platform teams at mid-size and large companies in retail, financial services, healthcare, SaaS, logistics and media who are outgrowing legacy on-premises warehouses or struggling with slow, expensive analytics.`
