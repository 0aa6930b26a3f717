// Copyright 2017 Google Inc. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package k8stopo

import (
	"flag"
	"fmt"

	"github.com/hostelcloud/hostel/catalog"
	"github.com/hostelcloud/hostel/discovery"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/tools/clientcmd"
	"k8s.io/klog/v2"
)

// TopologyName identifies the Kubernetes topology.
const TopologyName = "k8s"

var (
	kubeconfig = flag.String("kubeconfig", "", "Path to a kubeconfig. Only required if out-of-cluster.")
	namespace  = flag.String("k8s_topology_namespace", "default", "Namespace of the cluster Services. Only effective for --topology=k8s.")
	portName   = flag.String("k8s_topology_port_name", "grpc", "Name of the Service port clients connect to; empty picks the first port")
)

func init() {
	if err := discovery.RegisterTopology(TopologyName, newK8sTopology); err != nil {
		klog.Fatalf("Failed to register topology %v: %v", TopologyName, err)
	}
}

func newK8sTopology(*catalog.Config) (discovery.Topology, error) {
	config, err := clientcmd.BuildConfigFromFlags("", *kubeconfig)
	if err != nil {
		return nil, fmt.Errorf("failed to load Kubernetes config: %v", err)
	}
	client, err := kubernetes.NewForConfig(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create Kubernetes client: %v", err)
	}
	klog.Infof("Using Kubernetes topology in namespace %q", *namespace)
	return New(client, *namespace, *portName), nil
}
