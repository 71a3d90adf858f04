// Package vulkan brings up a Vulkan device on an SDL window with vkngwrapper and
// implements the gpu interfaces, the swapchain backend and the render targets
// on top of it.
package vulkan

import (
	"context"
	"log/slog"

	"github.com/cockroachdb/errors"
	"github.com/veandco/go-sdl2/sdl"
	"github.com/vkngwrapper/core"
	"github.com/vkngwrapper/core/common"
	"github.com/vkngwrapper/core/core1_0"
	"github.com/vkngwrapper/extensions/ext_debug_utils"
	"github.com/vkngwrapper/extensions/khr_portability_enumeration"
	"github.com/vkngwrapper/extensions/khr_portability_subset"
	"github.com/vkngwrapper/extensions/khr_surface"
	"github.com/vkngwrapper/extensions/khr_swapchain"
	vkng_sdl2 "github.com/vkngwrapper/integrations/sdl2"

	"github.com/vkngwrapper/vulkan-scene/internal/logging"
)

var validationLayers = []string{"VK_LAYER_KHRONOS_validation"}
var deviceExtensions = []string{khr_swapchain.ExtensionName}

type QueueFamilyIndices struct {
	GraphicsFamily *int
	PresentFamily  *int
}

func (i *QueueFamilyIndices) IsComplete() bool {
	return i.GraphicsFamily != nil && i.PresentFamily != nil
}

type SwapChainSupportDetails struct {
	Capabilities *khr_surface.SurfaceCapabilities
	Formats      []khr_surface.SurfaceFormat
	PresentModes []khr_surface.PresentMode
}

type Options struct {
	ApplicationName string
	Validation      bool
}

// Context owns the instance, the surface, the logical device, its queues and
// the command pool every command buffer is allocated from.
type Context struct {
	window  *sdl.Window
	loader  core.Loader
	options Options

	instance       core1_0.Instance
	debugMessenger ext_debug_utils.DebugUtilsMessenger
	surface        khr_surface.Surface

	physicalDevice core1_0.PhysicalDevice
	device         core1_0.Device
	deviceName     string
	families       QueueFamilyIndices

	graphicsQueue core1_0.Queue
	presentQueue  core1_0.Queue

	commandPool core1_0.CommandPool
}

// NewContext creates everything up to the command pool. On error the
// partially built context is destroyed.
func NewContext(loader core.Loader, window *sdl.Window, options Options) (*Context, error) {
	c := &Context{window: window, loader: loader, options: options}

	steps := []struct {
		name string
		fn   func() error
	}{
		{"create instance", c.createInstance},
		{"setup debug messenger", c.setupDebugMessenger},
		{"create surface", c.createSurface},
		{"pick physical device", c.pickPhysicalDevice},
		{"create logical device", c.createLogicalDevice},
		{"create command pool", c.createCommandPool},
	}
	for _, step := range steps {
		if err := step.fn(); err != nil {
			c.Destroy()
			return nil, errors.Wrapf(err, "vulkan: %s", step.name)
		}
	}

	logging.Logger().Info("vulkan: device ready",
		"device", c.deviceName,
		"graphicsFamily", *c.families.GraphicsFamily,
		"presentFamily", *c.families.PresentFamily)
	return c, nil
}

func (c *Context) Device() core1_0.Device                 { return c.device }
func (c *Context) PhysicalDevice() core1_0.PhysicalDevice { return c.physicalDevice }
func (c *Context) GraphicsQueue() core1_0.Queue           { return c.graphicsQueue }
func (c *Context) PresentQueue() core1_0.Queue            { return c.presentQueue }
func (c *Context) CommandPool() core1_0.CommandPool       { return c.commandPool }
func (c *Context) DeviceName() string                     { return c.deviceName }

func (c *Context) Destroy() {
	if c.commandPool != nil {
		c.commandPool.Destroy(nil)
		c.commandPool = nil
	}

	if c.device != nil {
		c.device.Destroy(nil)
		c.device = nil
	}

	if c.debugMessenger != nil {
		c.debugMessenger.Destroy(nil)
		c.debugMessenger = nil
	}

	if c.surface != nil {
		c.surface.Destroy(nil)
		c.surface = nil
	}

	if c.instance != nil {
		c.instance.Destroy(nil)
		c.instance = nil
	}
}

func (c *Context) createInstance() error {
	instanceOptions := core1_0.InstanceCreateInfo{
		ApplicationName:    c.options.ApplicationName,
		ApplicationVersion: common.CreateVersion(1, 0, 0),
		EngineName:         "vulkan-scene",
		EngineVersion:      common.CreateVersion(1, 0, 0),
		APIVersion:         common.Vulkan1_2,
	}

	// Add extensions
	sdlExtensions := c.window.VulkanGetInstanceExtensions()
	extensions, _, err := c.loader.AvailableExtensions()
	if err != nil {
		return err
	}

	for _, ext := range sdlExtensions {
		_, hasExt := extensions[ext]
		if !hasExt {
			return errors.Newf("cannot initialize sdl: missing extension %s", ext)
		}
		instanceOptions.EnabledExtensionNames = append(instanceOptions.EnabledExtensionNames, ext)
	}

	if c.options.Validation {
		instanceOptions.EnabledExtensionNames = append(instanceOptions.EnabledExtensionNames, ext_debug_utils.ExtensionName)
	}

	_, enumerationSupported := extensions[khr_portability_enumeration.ExtensionName]
	if enumerationSupported {
		instanceOptions.EnabledExtensionNames = append(instanceOptions.EnabledExtensionNames, khr_portability_enumeration.ExtensionName)
		instanceOptions.Flags |= khr_portability_enumeration.InstanceCreateEnumeratePortability
	}

	// Add layers
	layers, _, err := c.loader.AvailableLayers()
	if err != nil {
		return err
	}

	if c.options.Validation {
		for _, layer := range validationLayers {
			_, hasValidation := layers[layer]
			if !hasValidation {
				return errors.Newf("cannot add validation layer %s: not available, install the LunarG Vulkan SDK", layer)
			}
			instanceOptions.EnabledLayerNames = append(instanceOptions.EnabledLayerNames, layer)
		}

		// Add debug messenger
		instanceOptions.Next = c.debugMessengerOptions()
	}

	c.instance, _, err = c.loader.CreateInstance(nil, instanceOptions)
	return err
}

func (c *Context) debugMessengerOptions() ext_debug_utils.DebugUtilsMessengerCreateInfo {
	return ext_debug_utils.DebugUtilsMessengerCreateInfo{
		MessageSeverity: ext_debug_utils.SeverityError | ext_debug_utils.SeverityWarning,
		MessageType:     ext_debug_utils.TypeGeneral | ext_debug_utils.TypeValidation | ext_debug_utils.TypePerformance,
		UserCallback:    logDebug,
	}
}

func (c *Context) setupDebugMessenger() error {
	if !c.options.Validation {
		return nil
	}

	var err error
	debugLoader := ext_debug_utils.CreateExtensionFromInstance(c.instance)
	c.debugMessenger, _, err = debugLoader.CreateDebugUtilsMessenger(c.instance, nil, c.debugMessengerOptions())
	return err
}

func (c *Context) createSurface() error {
	surfaceLoader := khr_surface.CreateExtensionFromInstance(c.instance)

	surface, err := vkng_sdl2.CreateSurface(c.instance, surfaceLoader, c.window)
	if err != nil {
		return err
	}

	c.surface = surface
	return nil
}

func (c *Context) pickPhysicalDevice() error {
	physicalDevices, _, err := c.instance.EnumeratePhysicalDevices()
	if err != nil {
		return err
	}

	for _, device := range physicalDevices {
		if c.isDeviceSuitable(device) {
			c.physicalDevice = device
			break
		}
	}

	if c.physicalDevice == nil {
		return errors.New("failed to find a suitable GPU")
	}

	properties, err := c.physicalDevice.Properties()
	if err != nil {
		return err
	}
	c.deviceName = properties.DeviceName

	c.families, err = c.findQueueFamilies(c.physicalDevice)
	return err
}

func (c *Context) createLogicalDevice() error {
	uniqueQueueFamilies := []int{*c.families.GraphicsFamily}
	if uniqueQueueFamilies[0] != *c.families.PresentFamily {
		uniqueQueueFamilies = append(uniqueQueueFamilies, *c.families.PresentFamily)
	}

	var queueFamilyOptions []core1_0.DeviceQueueCreateInfo
	queuePriority := float32(1.0)
	for _, queueFamily := range uniqueQueueFamilies {
		queueFamilyOptions = append(queueFamilyOptions, core1_0.DeviceQueueCreateInfo{
			QueueFamilyIndex: queueFamily,
			QueuePriorities:  []float32{queuePriority},
		})
	}

	var extensionNames []string
	extensionNames = append(extensionNames, deviceExtensions...)

	// Makes the renderer compatible with vulkan portability, necessary to run on mobile & mac
	extensions, _, err := c.physicalDevice.EnumerateDeviceExtensionProperties()
	if err != nil {
		return err
	}

	_, supported := extensions[khr_portability_subset.ExtensionName]
	if supported {
		extensionNames = append(extensionNames, khr_portability_subset.ExtensionName)
	}

	c.device, _, err = c.physicalDevice.CreateDevice(nil, core1_0.DeviceCreateInfo{
		QueueCreateInfos: queueFamilyOptions,
		EnabledFeatures: &core1_0.PhysicalDeviceFeatures{
			SamplerAnisotropy: true,
		},
		EnabledExtensionNames: extensionNames,
	})
	if err != nil {
		return err
	}

	c.graphicsQueue = c.device.GetQueue(*c.families.GraphicsFamily, 0)
	c.presentQueue = c.device.GetQueue(*c.families.PresentFamily, 0)
	return nil
}

// createCommandPool allows individual buffers to be reset, which is how
// primary command buffers are re-recorded in place.
func (c *Context) createCommandPool() error {
	pool, _, err := c.device.CreateCommandPool(nil, core1_0.CommandPoolCreateInfo{
		Flags:            core1_0.CommandPoolCreateResetBuffer,
		QueueFamilyIndex: *c.families.GraphicsFamily,
	})
	if err != nil {
		return err
	}
	c.commandPool = pool
	return nil
}

func (c *Context) querySwapChainSupport(device core1_0.PhysicalDevice) (SwapChainSupportDetails, error) {
	var details SwapChainSupportDetails
	var err error

	details.Capabilities, _, err = c.surface.PhysicalDeviceSurfaceCapabilities(device)
	if err != nil {
		return details, err
	}

	details.Formats, _, err = c.surface.PhysicalDeviceSurfaceFormats(device)
	if err != nil {
		return details, err
	}

	details.PresentModes, _, err = c.surface.PhysicalDeviceSurfacePresentModes(device)
	return details, err
}

func (c *Context) isDeviceSuitable(device core1_0.PhysicalDevice) bool {
	indices, err := c.findQueueFamilies(device)
	if err != nil {
		return false
	}

	extensionsSupported := checkDeviceExtensionSupport(device)

	var swapChainAdequate bool
	if extensionsSupported {
		swapChainSupport, err := c.querySwapChainSupport(device)
		if err != nil {
			return false
		}

		swapChainAdequate = len(swapChainSupport.Formats) > 0 && len(swapChainSupport.PresentModes) > 0
	}

	features := device.Features()
	return indices.IsComplete() && extensionsSupported && swapChainAdequate && features.SamplerAnisotropy
}

func checkDeviceExtensionSupport(device core1_0.PhysicalDevice) bool {
	extensions, _, err := device.EnumerateDeviceExtensionProperties()
	if err != nil {
		return false
	}

	for _, extension := range deviceExtensions {
		_, hasExtension := extensions[extension]
		if !hasExtension {
			return false
		}
	}

	return true
}

func (c *Context) findQueueFamilies(device core1_0.PhysicalDevice) (QueueFamilyIndices, error) {
	indices := QueueFamilyIndices{}
	queueFamilies := device.QueueFamilyProperties()

	for queueFamilyIdx, queueFamily := range queueFamilies {
		if (queueFamily.QueueFlags & core1_0.QueueGraphics) != 0 {
			indices.GraphicsFamily = new(int)
			*indices.GraphicsFamily = queueFamilyIdx
		}

		supported, _, err := c.surface.PhysicalDeviceSurfaceSupport(device, queueFamilyIdx)
		if err != nil {
			return indices, err
		}

		if supported {
			indices.PresentFamily = new(int)
			*indices.PresentFamily = queueFamilyIdx
		}

		if indices.IsComplete() {
			break
		}
	}

	return indices, nil
}

func logDebug(msgType ext_debug_utils.DebugUtilsMessageTypeFlags, severity ext_debug_utils.DebugUtilsMessageSeverityFlags, data *ext_debug_utils.DebugUtilsMessengerCallbackData) bool {
	level := slog.LevelWarn
	if severity&ext_debug_utils.SeverityError != 0 {
		level = slog.LevelError
	}
	logging.Logger().Log(context.Background(), level, data.Message, "type", msgType, "severity", severity)
	return false
}
